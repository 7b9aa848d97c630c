// Package normalize holds the pure functions between raw model output and
// persisted indicators: taxonomy classification, unit extraction, PII
// filtering and status interpretation.
package normalize

import (
	"strings"

	"github.com/yuancheng-ma/healthfolio/constants"
)

// The classifier is a priority cascade: the first tier with a hit wins, and
// within one tier the first matching keyword wins, so classification is
// deterministic for any input.

var pathologyKeywords = []string{
	"病理", "活检", "穿刺", "细胞学", "免疫组化", "涂片", "biopsy", "pathology",
}

var symptomKeywords = []string{
	"症状", "头痛", "头晕", "乏力", "咳嗽", "发热", "胸闷", "心悸", "失眠", "恶心", "不适",
}

var compositeGeneralKeywords = []string{
	"血压", "blood pressure", "bmi", "体质指数", "体重指数",
}

// Imaging modalities, checked before the lab tables so "肝胆B超" lands in
// ultrasound rather than liver_function.
var imagingTables = []struct {
	cat      constants.Category
	keywords []string
}{
	{constants.Ultrasound, []string{"b超", "彩超", "超声", "ultrasound"}},
	{constants.CTMRI, []string{"ct", "mri", "磁共振", "平扫", "增强扫描"}},
	{constants.XRay, []string{"x光", "x线", "胸片", "x-ray", "dr", "dr摄影", "钼靶"}},
	{constants.Endoscopy, []string{"胃镜", "肠镜", "内镜", "内窥镜", "喉镜", "膀胱镜"}},
}

// Laboratory panels in check order: specific panels go before the generic
// biochemistry bucket, kidney before urine so 尿酸 stays renal.
var labTables = []struct {
	cat      constants.Category
	keywords []string
}{
	{constants.BloodRoutine, []string{
		"血常规", "白细胞", "红细胞计数", "红细胞压积", "血红蛋白", "血小板", "中性粒细胞",
		"淋巴细胞", "单核细胞", "嗜酸", "嗜碱", "网织红", "平均血红蛋白", "红细胞分布宽度",
		"wbc", "rbc", "hgb", "hb", "hct", "plt", "mcv", "mch", "mchc",
	}},
	{constants.LiverFunction, []string{
		"肝功能", "谷丙转氨酶", "谷草转氨酶", "转氨酶", "谷氨酰转肽酶", "碱性磷酸酶",
		"总胆红素", "直接胆红素", "间接胆红素", "胆红素", "总蛋白", "白蛋白", "球蛋白", "胆汁酸",
		"alt", "ast", "ggt", "alp",
	}},
	{constants.KidneyFunc, []string{
		"肾功能", "肌酐", "尿素氮", "尿素", "尿酸", "胱抑素", "肾小球滤过率", "egfr", "bun",
	}},
	{constants.Thyroid, []string{
		"甲状腺功能", "促甲状腺", "甲功", "游离三碘", "游离甲状腺素",
		"tsh", "ft3", "ft4", "t3", "t4", "抗甲状腺",
	}},
	{constants.TumorMarkers, []string{
		"肿瘤标志物", "甲胎蛋白", "癌胚抗原", "糖类抗原", "鳞状细胞癌抗原", "铁蛋白",
		"afp", "cea", "psa", "ca125", "ca199", "ca153", "ca724", "cyfra",
	}},
	{constants.Coagulation, []string{
		"凝血", "凝血酶原", "活化部分凝血活酶", "纤维蛋白原", "d-二聚体", "d二聚体",
		"aptt", "inr", "pt时间",
	}},
	{constants.Cardiac, []string{
		"肌钙蛋白", "肌酸激酶", "心肌酶", "乳酸脱氢酶", "脑钠肽", "肌红蛋白",
		"ck-mb", "bnp", "nt-probnp", "ldh",
	}},
	{constants.BloodRheology, []string{
		"血流变", "血液流变", "全血粘度", "全血黏度", "血浆粘度", "血浆黏度", "红细胞聚集",
	}},
	{constants.Infection, []string{
		"乙肝", "丙肝", "梅毒", "艾滋", "表面抗原", "表面抗体", "e抗原", "e抗体", "核心抗体",
		"结核", "幽门螺杆菌", "c反应蛋白", "降钙素原", "hiv", "hbv", "hcv", "crp",
	}},
	{constants.Urine, []string{
		"尿常规", "尿蛋白", "尿糖", "尿潜血", "尿隐血", "尿比重", "尿酮体", "尿胆原",
		"尿白细胞", "尿红细胞", "尿沉渣", "尿微量白蛋白",
	}},
	{constants.Stool, []string{
		"大便", "粪便", "便常规", "隐血试验", "便潜血",
	}},
	{constants.Biochemistry, []string{
		"血糖", "葡萄糖", "糖化血红蛋白", "血脂", "总胆固醇", "甘油三酯",
		"低密度脂蛋白", "高密度脂蛋白", "载脂蛋白", "电解质", "血钾", "血钠", "血氯", "血钙",
		"同型半胱氨酸", "淀粉酶", "脂肪酶", "血清铁", "叶酸", "维生素",
	}},
	{constants.GeneralExam, []string{
		"身高", "体重", "心率", "脉搏", "体温", "腰围", "臀围", "视力", "听力", "心电图", "体脂",
	}},
	{constants.SpecialOrgans, []string{
		"骨密度", "眼底", "眼压", "口腔", "耳鼻喉", "鼻咽",
	}},
}

// Organ names trigger the imaging fallback only when nothing above matched:
// a bare organ finding ("肝囊肿") almost always came from an ultrasound.
var organKeywords = []string{
	"肝", "胆", "胰", "脾", "肾", "子宫", "卵巢", "前列腺", "乳腺", "膀胱", "心脏", "肺", "颈动脉",
}

// Classify maps a free-form indicator name to the closed taxonomy.
func Classify(name string) constants.Category {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return constants.Other
	}

	for _, kw := range pathologyKeywords {
		if matchKeyword(n, kw) {
			return constants.Pathology
		}
	}
	for _, kw := range symptomKeywords {
		if matchKeyword(n, kw) {
			return constants.Other
		}
	}
	for _, kw := range compositeGeneralKeywords {
		if matchKeyword(n, kw) {
			return constants.GeneralExam
		}
	}
	for _, table := range imagingTables {
		for _, kw := range table.keywords {
			if matchKeyword(n, kw) {
				return table.cat
			}
		}
	}
	for _, table := range labTables {
		for _, kw := range table.keywords {
			if matchKeyword(n, kw) {
				return table.cat
			}
		}
	}
	for _, kw := range organKeywords {
		if matchKeyword(n, kw) {
			return constants.Ultrasound
		}
	}
	return constants.Other
}

// matchKeyword reports whether kw occurs in n. Short Latin abbreviations
// ("ct", "hb", "dr") only count on token boundaries so they cannot fire
// inside a longer Latin word: "hct" and "direct" must not hit "ct".
func matchKeyword(n, kw string) bool {
	if !shortLatin(kw) {
		return strings.Contains(n, kw)
	}
	for start := 0; ; {
		i := strings.Index(n[start:], kw)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(kw)
		if (i == 0 || !isWordByte(n[i-1])) && (end == len(n) || !isWordByte(n[end])) {
			return true
		}
		start = i + 1
	}
}

// shortLatin reports whether kw is an ASCII abbreviation of three characters
// or fewer. Multibyte keywords and longer spellings are distinctive enough
// for plain substring matching.
func shortLatin(kw string) bool {
	if len(kw) > 3 {
		return false
	}
	for i := 0; i < len(kw); i++ {
		if !isWordByte(kw[i]) {
			return false
		}
	}
	return true
}

// isWordByte treats ASCII letters and digits as word characters. Multibyte
// UTF-8 sequences never qualify, so CJK neighbors act as token boundaries.
func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
