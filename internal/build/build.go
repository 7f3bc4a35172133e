package build

import "strings"

var (
	// Version is set at release time via -ldflags.
	Version = "dev"
	AppName = "Policity"
	Slug    = ""
)

func init() {
	if Slug == "" {
		Slug = strings.ToLower(AppName)
	}
}
