package llm

import "strings"

// BuildExtractionSystemPrompt constrains the model to transcribe, not invent.
// The reports are Chinese medical checkups, so the instructions are Chinese.
func BuildExtractionSystemPrompt() string {
	parts := []string{
		"你是一个体检报告解析助手。你的任务是从报告文本中提取检查指标。",
		"只提取报告中实际出现的指标，不要推断或补充任何内容。",
		"每个指标输出：indicator（指标名称）、measured_value（测量值，含原始单位）、normal_range（参考范围，报告未给出时为 null）、abnormal（是否异常：\"是\"/\"否\"，报告未标注时为 null）。",
		"参考范围只能来自报告原文，绝不能自行推算。",
		"异常标志只能来自报告的标注（箭头、\"偏高\"、\"阳性\"等），绝不能根据数值自行判断。",
		"只输出一个纯 JSON 对象：{\"indicators\": [...]}，不要输出任何解释、思考过程或代码块标记。",
	}
	return strings.Join(parts, "\n")
}

// BuildExtractionUserPrompt carries the report text plus the names already in
// the user's history, so the model reuses existing spellings.
func BuildExtractionUserPrompt(reportText string, knownNames []string) string {
	var b strings.Builder
	if len(knownNames) > 0 {
		b.WriteString("该用户历史记录中已有以下指标名称，若本报告出现同一指标请沿用相同名称：\n")
		b.WriteString(strings.Join(knownNames, "、"))
		b.WriteString("\n\n")
	}
	b.WriteString("报告内容如下：\n")
	b.WriteString(reportText)
	return b.String()
}

// BuildVisionPrompt is the single-message prompt for the direct vision
// workflow; the image replaces the OCR text.
func BuildVisionPrompt(knownNames []string) string {
	var b strings.Builder
	b.WriteString(BuildExtractionSystemPrompt())
	b.WriteString("\n\n请识别这张体检报告图片中的全部检查指标。")
	if len(knownNames) > 0 {
		b.WriteString("\n该用户历史记录中已有以下指标名称，若图片中出现同一指标请沿用相同名称：\n")
		b.WriteString(strings.Join(knownNames, "、"))
	}
	return b.String()
}
