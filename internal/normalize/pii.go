package normalize

import "strings"

// Demographic fields that OCR sometimes transcribes as indicators. Anything
// matching here is dropped before persistence.
var piiKeywords = []string{
	"姓名", "name", "性别", "gender", "sex",
	"年龄", "age", "出生日期", "出生年月", "birthday", "date of birth",
	"身份证", "证件号", "id number",
	"电话", "手机", "联系方式", "phone", "tel",
	"地址", "住址", "address",
	"民族", "婚姻", "职业", "工作单位",
	"病历号", "门诊号", "住院号", "体检号", "条码号",
}

// IsPII reports whether an indicator name is demographic metadata rather
// than a health measurement.
func IsPII(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return false
	}
	for _, kw := range piiKeywords {
		if strings.Contains(n, kw) {
			return true
		}
	}
	return false
}
