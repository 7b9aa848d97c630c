package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yuancheng-ma/healthfolio/constants"
)

func TestClassifyPriorityTiers(t *testing.T) {
	cases := []struct {
		name string
		want constants.Category
	}{
		// Pathology outranks everything else.
		{"甲状腺穿刺活检", constants.Pathology},
		{"胃黏膜病理诊断", constants.Pathology},
		// Symptoms land in other.
		{"头晕症状", constants.Other},
		// Composite general-exam names.
		{"血压", constants.GeneralExam},
		{"BMI", constants.GeneralExam},
		{"体质指数", constants.GeneralExam},
		// Imaging modality beats the organ fallback.
		{"肝胆B超", constants.Ultrasound},
		{"胸部CT平扫", constants.CTMRI},
		{"PET-CT", constants.CTMRI},
		{"胸片", constants.XRay},
		{"胃镜检查", constants.Endoscopy},
		// Lab tables.
		{"白细胞计数", constants.BloodRoutine},
		{"谷丙转氨酶", constants.LiverFunction},
		{"血肌酐", constants.KidneyFunc},
		{"尿酸", constants.KidneyFunc},
		{"促甲状腺激素", constants.Thyroid},
		{"甲胎蛋白AFP", constants.TumorMarkers},
		{"凝血酶原时间", constants.Coagulation},
		{"肌钙蛋白I", constants.Cardiac},
		{"全血粘度", constants.BloodRheology},
		{"乙肝表面抗原", constants.Infection},
		{"尿蛋白", constants.Urine},
		{"便常规", constants.Stool},
		{"空腹血糖", constants.Biochemistry},
		{"身高", constants.GeneralExam},
		{"骨密度", constants.SpecialOrgans},
		// Organ fallback: a bare organ finding reads as ultrasound.
		{"肝囊肿", constants.Ultrasound},
		{"前列腺增生", constants.Ultrasound},
		// Nothing matches.
		{"不明项目", constants.Other},
		{"", constants.Other},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.name), "name %q", tc.name)
	}
}

// Latin abbreviations must not fire inside longer Latin words: "hct" and
// "direct" both contain "ct" but are not CT scans.
func TestClassifyAbbreviationsNeedTokenBoundaries(t *testing.T) {
	assert.Equal(t, constants.BloodRoutine, Classify("HCT"))
	assert.Equal(t, constants.BloodRoutine, Classify("Hct红细胞压积比值"))
	assert.NotEqual(t, constants.CTMRI, Classify("Direct Bilirubin"))
	assert.NotEqual(t, constants.CTMRI, Classify("Lactate"))
	assert.Equal(t, constants.CTMRI, Classify("腹部CT"))
	assert.Equal(t, constants.XRay, Classify("胸部DR"))
}

func TestClassifyCaseAndWhitespaceInsensitive(t *testing.T) {
	assert.Equal(t, Classify("wbc"), Classify("  WBC "))
	assert.Equal(t, constants.BloodRoutine, Classify("WBC"))
}

func TestClassifyDeterministic(t *testing.T) {
	// Names matching several tables must always resolve the same way.
	for i := 0; i < 50; i++ {
		assert.Equal(t, constants.Ultrasound, Classify("肝胆B超"))
		assert.Equal(t, constants.KidneyFunc, Classify("尿酸"))
	}
}
