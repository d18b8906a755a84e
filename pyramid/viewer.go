package pyramid

import (
	"os"
	"path/filepath"
	"text/template"

	"github.com/marsmapper/tilepipe/tilegrid"
)

// ViewerName is the filename of the auxiliary Leaflet entry point written
// next to the tile tree.
const ViewerName = "leaflet.html"

const viewerTemplate = `<!DOCTYPE html>
<html>
<head>
	<meta charset="utf-8"/>
	<title>tilepipe map</title>
	<meta name="viewport" content="width=device-width, initial-scale=1.0"/>
	<link rel="stylesheet" href="https://unpkg.com/leaflet@1.9.4/dist/leaflet.css"/>
	<script src="https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"></script>
	<style>html, body, #map { height: 100%; margin: 0; }</style>
</head>
<body>
	<div id="map"></div>
	<script>
		const map = L.map('map', {
			crs: L.CRS.{{.CRS}},
			minZoom: {{.ZMin}},
			maxZoom: {{.ZMax}}
		}).setView([{{printf "%.6f" .Lat}}, {{printf "%.6f" .Lon}}], {{.ZMin}});
		L.tileLayer('{z}/{x}/{y}{{.Ext}}', {
			minZoom: {{.ZMin}},
			maxZoom: {{.ZMax}},
			noWrap: true
		}).addTo(map);
	</script>
</body>
</html>
`

type viewerData struct {
	CRS        string
	Ext        string
	ZMin, ZMax int
	Lat, Lon   float64
}

// WriteViewer writes a Leaflet page into outDir centered on the middle of
// the mosaic footprint, so operators can view the tile tree immediately.
// The gzipped flag must match the tile tree so the page references the
// extension the tiles were actually written with.
func WriteViewer(outDir string, profile tilegrid.Profile, zmin, zmax int, centerLat, centerLon float64, gzipped bool) error {
	crs := "EPSG3857"
	if profile == tilegrid.Geodetic {
		crs = "EPSG4326"
	}
	ext := ".png"
	if gzipped {
		ext = ".png.gz"
	}
	tmpl := template.Must(template.New("viewer").Parse(viewerTemplate))
	f, err := os.Create(filepath.Join(outDir, ViewerName))
	if err != nil {
		return err
	}
	defer f.Close()
	return tmpl.Execute(f, viewerData{
		CRS:  crs,
		Ext:  ext,
		ZMin: zmin,
		ZMax: zmax,
		Lat:  centerLat,
		Lon:  centerLon,
	})
}
