// 包 flatten 将嵌套的会话记录转换为固定列集合的扁平行。
// 列集合是固定白名单：源记录中多出的字段丢弃，缺失的列填空串。
package flatten

import (
	"bytes"
	"encoding/json"
	"strconv"

	"hibot-harvest/internal/logx"
	"hibot-harvest/internal/model"
)

// Columns 为输出 CSV 的列及顺序。
var Columns = []string{
	"active", "agentName", "assigned", "assignmentType", "attentionHour", "campaignName",
	"channel", "channelId", "chatId", "client", "clientId", "closed", "contact_account",
	"contact_exclusive_agent_id", "contact_exclusive_agent_name", "contact_exclusive_agents_count",
	"contact_exclusive_agents_json", "contact_exclusive_campaign_id", "contact_exclusive_campaign_name",
	"contact_id", "contact_name", "contact_tags", "contacts_count", "created", "delegate", "delegated",
	"duration", "id", "inactivityCounterByAgent", "initFromAgent", "isTransfer", "note", "oldConversationId",
	"outOfTime", "parentConversationAgent", "postId", "projectName", "responseTime", "sendAck", "tags",
	"typeChannel", "typing", "unknownContact", "waitTime",
}

// contactColumns 为主联系人派生列，无联系人时全部为空。
var contactColumns = []string{
	"contact_id", "contact_account", "contact_name", "contact_tags",
	"contact_exclusive_agents_count", "contact_exclusive_agents_json",
	"contact_exclusive_agent_id", "contact_exclusive_campaign_id",
	"contact_exclusive_agent_name", "contact_exclusive_campaign_name",
}

// Row 将一条记录转换为恰好包含 Columns 的扁平行。
func Row(rec model.Record) model.FlatRow {
	row := make(model.FlatRow, len(Columns))
	for _, c := range Columns {
		row[c] = ""
	}
	for k, v := range rec {
		if k == "contacts" {
			continue
		}
		if _, ok := row[k]; ok {
			row[k] = Text(v)
		}
	}

	contacts := objects(rec["contacts"])
	row["contacts_count"] = strconv.Itoa(arrayLen(rec["contacts"]))
	if len(contacts) > 0 {
		for k, v := range contact(contacts[0]) {
			row[k] = v
		}
	} else {
		for _, c := range contactColumns {
			row[c] = ""
		}
	}
	return row
}

// Rows 逐条扁平化；非对象条目跳过。
func Rows(items []json.RawMessage) []model.FlatRow {
	out := make([]model.FlatRow, 0, len(items))
	for i, it := range items {
		var rec model.Record
		if err := json.Unmarshal(it, &rec); err != nil || rec == nil {
			logx.Debugf("跳过第 %d 条非对象记录", i)
			continue
		}
		out = append(out, Row(rec))
	}
	return out
}

// contact 展开主联系人：账号/名称/标签与第一个专属坐席。
func contact(c model.Record) map[string]string {
	out := map[string]string{
		"contact_id":      Text(c["contactId"]),
		"contact_account": Text(c["account"]),
		"contact_name":    Text(c["name"]),
		"contact_tags":    "[]",
	}
	if tags, ok := c["tags"]; ok {
		out["contact_tags"] = Text(tags)
	}

	ex, hasEx := c["exclusiveAgents"]
	out["contact_exclusive_agents_count"] = strconv.Itoa(arrayLen(ex))
	switch {
	case !hasEx:
		out["contact_exclusive_agents_json"] = "[]"
	case isArray(ex):
		out["contact_exclusive_agents_json"] = Text(ex)
	default:
		out["contact_exclusive_agents_json"] = ""
	}
	var first model.Record
	if agents := objects(ex); len(agents) > 0 {
		first = agents[0]
	}
	out["contact_exclusive_agent_id"] = Text(first["agentId"])
	out["contact_exclusive_campaign_id"] = Text(first["campaignId"])
	out["contact_exclusive_agent_name"] = Text(first["agent"])
	out["contact_exclusive_campaign_name"] = Text(first["campaign"])
	return out
}

// Text 将 JSON 值转为单元格文本：
// 字符串去引号，数字/布尔原样，null 为空，数组/对象压缩为单行 JSON。
func Text(v json.RawMessage) string {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return ""
	}
	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
	case '[', '{':
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err == nil {
			return buf.String()
		}
	}
	return string(v)
}

func isArray(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) > 0 && v[0] == '['
}

func arrayLen(v json.RawMessage) int {
	if !isArray(v) {
		return 0
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(v, &arr); err != nil {
		return 0
	}
	return len(arr)
}

// objects 返回数组中的对象元素，非对象元素忽略。
func objects(v json.RawMessage) []model.Record {
	if !isArray(v) {
		return nil
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(v, &arr); err != nil {
		return nil
	}
	out := make([]model.Record, 0, len(arr))
	for _, it := range arr {
		var r model.Record
		if json.Unmarshal(it, &r) == nil && r != nil {
			out = append(out, r)
		}
	}
	return out
}
