package assets

type Config struct {
	// Output directory the bundle is written to
	OutputDir string
	// File name of the bundle inside OutputDir
	Filename string
	// URL prefix the bundle is served under, used by the generated index.html
	PublicPath string
	// Title of the generated index.html
	Title string
}
