package hibot

import "hibot-harvest/internal/model"

// HasMore 判断 page 之后是否还有数据，按可靠性依次：
//  1. last 布尔标记
//  2. totalPages + number（从 0 开始）
//  3. 无元数据时：本页满载（got == size）视为还有下一页
func HasMore(meta model.Pagination, page, size, got int) bool {
	if meta.Last != nil {
		return !*meta.Last
	}
	if meta.TotalPages != nil && meta.Number != nil {
		return page+1 < *meta.TotalPages
	}
	return got == size
}
