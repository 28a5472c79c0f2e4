package studio

import (
	"fmt"

	"genpool/pkg/types"
)

var aistudioRatios = []types.AspectRatio{
	types.AspectAuto, "1:1", "9:16", "16:9", "3:4", "4:3", "3:2", "2:3", "5:4", "4:5", "21:9",
}

// doubaoRatioIndex maps a ratio to its entry in the ratio dropdown.
var doubaoRatioIndex = map[types.AspectRatio]int{
	"1:1":  0,
	"2:3":  1,
	"4:3":  2,
	"9:16": 3,
	"16:9": 4,
}

// SupportedRatios lists the ratios a service accepts.
func SupportedRatios(kind types.ServiceKind) []types.AspectRatio {
	switch kind {
	case types.ServiceDoubao:
		return []types.AspectRatio{types.AspectAuto, "1:1", "2:3", "4:3", "9:16", "16:9"}
	case types.ServiceGrok:
		return []types.AspectRatio{types.AspectAuto}
	default:
		return append([]types.AspectRatio(nil), aistudioRatios...)
	}
}

// CheckRatio returns an error when kind cannot honor ratio. An empty ratio
// means Auto.
func CheckRatio(kind types.ServiceKind, ratio types.AspectRatio) error {
	if ratio == "" {
		return nil
	}
	for _, r := range SupportedRatios(kind) {
		if r == ratio {
			return nil
		}
	}
	return fmt.Errorf("aspect ratio %q is not supported by %s", ratio, kind)
}
