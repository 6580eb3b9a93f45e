package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hibot-harvest/internal/export"
	"hibot-harvest/internal/fetch"
	"hibot-harvest/internal/flatten"
	"hibot-harvest/internal/hibot"
	"hibot-harvest/internal/model"
)

// Params 为 ToCSV 的采集参数。
type Params struct {
	Start       time.Time
	End         time.Time
	Output      string
	PageSize    int
	Concurrency int
	BatchSize   int
	StartPage   int
	TimeUnit    string
	Ledger      Ledger
	RunID       string
}

// ToCSV 抓取 [Start, End] 内的全部会话记录并写入 Output（先清空旧文件）。
func ToCSV(ctx context.Context, cl *fetch.Client, conn hibot.Connection, p Params) (model.RunSummary, error) {
	if cl == nil {
		return model.RunSummary{}, errors.New("http client required")
	}
	if p.End.Before(p.Start) {
		return model.RunSummary{}, fmt.Errorf("end %s is before start %s", hibot.FormatISOZ(p.End), hibot.FormatISOZ(p.Start))
	}
	sink, err := export.NewCSVSink(p.Output, flatten.Columns, true)
	if err != nil {
		return model.RunSummary{}, fmt.Errorf("csv sink: %w", err)
	}
	r := New(hibot.NewClient(cl, conn), sink, Options{
		PageSize:    p.PageSize,
		Concurrency: p.Concurrency,
		BatchSize:   p.BatchSize,
		StartPage:   p.StartPage,
		Start:       p.Start,
		End:         p.End,
		TimeUnit:    p.TimeUnit,
		Ledger:      p.Ledger,
		RunID:       p.RunID,
	})
	return r.Run(ctx)
}
