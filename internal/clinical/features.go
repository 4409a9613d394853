package clinical

import (
	"math"
	"strings"

	"github.com/hepatica-risk-engine/internal/domain"
	"github.com/hepatica-risk-engine/pkg/numeric"
)

// FeatureColumns lists the learned-model payload keys in export order.
var FeatureColumns = []string{
	"age_years", "sex", "bmi", "type2dm", "hypertension", "dyslipidemia",
	"ast_u_l", "alt_u_l", "platelets_10e9_l", "ast_uln_u_l",
	"albumin_g_dl", "total_bilirubin_mg_dl", "ggt_u_l", "inr", "hba1c_pct", "triglycerides_mg_dl",
	"fib4_input", "apri_input", "ast_alt_ratio",
}

// CoerceSex maps a free-form sex value onto the training categories M and F.
func CoerceSex(value string) string {
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(value)), "M") {
		return "M"
	}
	return "F"
}

// The lab values below are not captured at triage. They are defaulted
// deterministically from the observed panel so the payload matches the
// training schema.

// DefaultAlbumin estimates serum albumin (g/dL) from AST.
func DefaultAlbumin(ast float64) float64 {
	return numeric.Clamp(4.3-0.0025*math.Max(ast-35, 0), 2.0, 5.5)
}

func defaultBilirubin(ast, alt float64, type2dm bool) float64 {
	v := 0.65 + 0.002*math.Max(ast-30, 0) + 0.0015*math.Max(alt-30, 0)
	if type2dm {
		v += 0.1
	}
	return numeric.Clamp(v, 0.1, 8.0)
}

func defaultGGT(ast, bmi float64, type2dm bool) float64 {
	v := 22.0 + 0.5*ast + 1.1*math.Max(bmi-25, 0)
	if type2dm {
		v += 8.0
	}
	return numeric.Clamp(v, 10, 800)
}

func defaultINR(ast float64) float64 {
	return numeric.Clamp(0.96+0.0004*math.Max(ast-25, 0), 0.8, 2.5)
}

func defaultHbA1c(type2dm bool, bmi float64) float64 {
	if type2dm {
		return numeric.Clamp(7.1+0.02*math.Max(bmi-28, 0), 4.5, 12)
	}
	return numeric.Clamp(5.3+0.015*math.Max(bmi-25, 0), 4.5, 12)
}

func defaultTriglycerides(type2dm bool, bmi float64) float64 {
	v := 118.0 + 2.7*math.Max(bmi-25, 0)
	if type2dm {
		v += 40
	}
	return numeric.Clamp(v, 50, 700)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// BuildFeaturePayload derives the learned-model input from a triage input.
// FIB-4 and APRI are used unrounded.
func BuildFeaturePayload(in domain.ClinicalInput) (map[string]any, error) {
	fib4, err := ComputeFIB4(in.Age, in.AST, in.ALT, in.Platelets)
	if err != nil {
		return nil, err
	}
	apri, err := ComputeAPRI(in.AST, in.ASTULN, in.Platelets)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"age_years":             in.Age,
		"sex":                   CoerceSex(in.Sex),
		"bmi":                   in.BMI,
		"type2dm":               boolInt(in.Type2DM),
		"hypertension":          boolInt(in.Type2DM || in.BMI >= 30 || in.Age >= 60),
		"dyslipidemia":          boolInt(in.Type2DM || in.BMI >= 28),
		"ast_u_l":               in.AST,
		"alt_u_l":               in.ALT,
		"platelets_10e9_l":      in.Platelets,
		"ast_uln_u_l":           in.ASTULN,
		"albumin_g_dl":          DefaultAlbumin(in.AST),
		"total_bilirubin_mg_dl": defaultBilirubin(in.AST, in.ALT, in.Type2DM),
		"ggt_u_l":               defaultGGT(in.AST, in.BMI, in.Type2DM),
		"inr":                   defaultINR(in.AST),
		"hba1c_pct":             defaultHbA1c(in.Type2DM, in.BMI),
		"triglycerides_mg_dl":   defaultTriglycerides(in.Type2DM, in.BMI),
		"fib4_input":            fib4,
		"apri_input":            apri,
		"ast_alt_ratio":         in.AST / in.ALT,
	}, nil
}
