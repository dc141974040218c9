package server

import _ "embed"

//go:generate gzip -9 -n -k -f static/index.html

// indexPage is the gzip-compressed terminal page served at /.
//
//go:embed static/index.html.gz
var indexPage []byte
