package integrate

import "strings"

// BuildIntegrationSystemPrompt constrains the model to propose edits only
// for indicators it was shown, and never to touch reference ranges.
func BuildIntegrationSystemPrompt() string {
	parts := []string{
		"你是一个健康档案整理助手。用户的多份体检报告中，同一项检查可能使用了不同的名称、单位或异常标注方式。",
		"你的任务是提出统一化修改建议：同一指标沿用同一名称、同一单位表示法、同一分类。",
		"每条建议输出：id（必须是输入中给出的指标 id）、indicator_name（统一后的名称）、value（换算后的数值）、unit（统一后的单位）、status（normal/abnormal/attention）、indicator_type（统一后的分类代码）、reason（修改理由）。",
		"只输出需要修改的条目，未提及的字段可以省略或为 null。",
		"绝对不要修改参考范围（reference_range），不要输出该字段。",
		"不要发明输入中不存在的 id，不要合并或删除指标。",
		"只输出一个纯 JSON 对象：{\"changes\": [...]}，不要输出任何解释、思考过程或代码块标记。",
	}
	return strings.Join(parts, "\n")
}

// BuildIntegrationUserPrompt carries the grouped indicator payload plus the
// user's optional free-text instructions for this run.
func BuildIntegrationUserPrompt(payload, userPrompt string) string {
	var b strings.Builder
	b.WriteString("以下是按指标名称分组的历史检查数据（JSON）：\n")
	b.WriteString(payload)
	if p := strings.TrimSpace(userPrompt); p != "" {
		b.WriteString("\n\n用户的补充要求：")
		b.WriteString(p)
	}
	b.WriteString("\n\n请给出统一化修改建议。")
	return b.String()
}
