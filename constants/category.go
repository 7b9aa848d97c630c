package constants

import "strings"

// Category is the closed taxonomy for indicator classification.
type Category string

const (
	GeneralExam   Category = "general_exam"
	BloodRoutine  Category = "blood_routine"
	Biochemistry  Category = "biochemistry"
	LiverFunction Category = "liver_function"
	KidneyFunc    Category = "kidney_function"
	Thyroid       Category = "thyroid"
	Cardiac       Category = "cardiac"
	TumorMarkers  Category = "tumor_markers"
	Infection     Category = "infection"
	BloodRheology Category = "blood_rheology"
	Coagulation   Category = "coagulation"
	Urine         Category = "urine"
	Stool         Category = "stool"
	Pathology     Category = "pathology"
	Ultrasound    Category = "ultrasound"
	XRay          Category = "X_ray"
	CTMRI         Category = "CT_MRI"
	Endoscopy     Category = "endoscopy"
	SpecialOrgans Category = "special_organs"
	Other         Category = "other"
)

var allCategories = []Category{
	GeneralExam,
	BloodRoutine,
	Biochemistry,
	LiverFunction,
	KidneyFunc,
	Thyroid,
	Cardiac,
	TumorMarkers,
	Infection,
	BloodRheology,
	Coagulation,
	Urine,
	Stool,
	Pathology,
	Ultrasound,
	XRay,
	CTMRI,
	Endoscopy,
	SpecialOrgans,
	Other,
}

func AllCategories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

func CategoryStrings() []string {
	result := make([]string, len(allCategories))
	for i, cat := range allCategories {
		result[i] = string(cat)
	}
	return result
}

// ValidCategory reports whether code is one of the closed taxonomy values.
// Codes come back through an LLM round-trip, so be tolerant of whitespace.
func ValidCategory(code string) bool {
	code = strings.TrimSpace(code)
	for _, cat := range allCategories {
		if code == string(cat) {
			return true
		}
	}
	return false
}
