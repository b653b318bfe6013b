package resources

import "embed"

//go:embed migrations filters i18n
var FS embed.FS
