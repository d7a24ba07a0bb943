package httptransport

import _ "embed"

const htmlContentType = "text/html; charset=utf-8"

var (
	//go:embed pages/preview.html
	previewPage []byte

	//go:embed pages/panel.html
	panelPage []byte
)
