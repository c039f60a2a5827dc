package vintage

import "strings"

// Coordinate resolution sources, recorded on the weather row and reflected
// in its confidence.
const (
	SourceBuiltin   = "builtin"
	SourceGeocode   = "geocode"
	SourceCountry   = "country"
	SourceReference = "reference"
)

// coordinates of a wine region's approximate centroid
type coordinates struct {
	Lat float64
	Lon float64
}

// wineRegions is the built-in table of growing regions. Keys are
// normalized region names; values are approximate vineyard centroids.
var wineRegions = map[string]coordinates{
	// France
	"bordeaux":                   {44.84, -0.58},
	"margaux":                    {45.04, -0.68},
	"pauillac":                   {45.20, -0.75},
	"saint-emilion":              {44.89, -0.16},
	"burgundy":                   {47.05, 4.86},
	"bourgogne":                  {47.05, 4.86},
	"chablis":                    {47.81, 3.80},
	"cote de nuits":              {47.18, 4.95},
	"champagne":                  {49.04, 4.00},
	"alsace":                     {48.16, 7.30},
	"loire":                      {47.25, 0.70},
	"sancerre":                   {47.33, 2.83},
	"muscadet":                   {47.20, -1.40},
	"vouvray":                    {47.41, 0.80},
	"rhone":                      {44.93, 4.89},
	"chateauneuf-du-pape":        {44.06, 4.83},
	"provence":                   {43.46, 6.24},
	"sauternes":                  {44.53, -0.33},
	// Italy
	"tuscany":                    {43.46, 11.14},
	"chianti":                    {43.47, 11.25},
	"barolo":                     {44.61, 7.94},
	"piedmont":                   {44.70, 8.00},
	"veneto":                     {45.44, 11.00},
	"sicily":                     {37.60, 14.02},
	// Spain & Portugal
	"rioja":                      {42.46, -2.45},
	"ribera del duero":           {41.62, -3.69},
	"rias baixas":                {42.46, -8.72},
	"priorat":                    {41.19, 0.83},
	"douro":                      {41.16, -7.78},
	"porto":                      {41.16, -8.63},
	// Germany & Austria
	"mosel":                      {49.97, 7.06},
	"rheingau":                   {50.02, 8.00},
	"wachau":                     {48.36, 15.43},
	// Hungary & Greece
	"tokaj":                      {48.12, 21.41},
	"santorini":                  {36.40, 25.45},
	// New world
	"napa valley":                {38.50, -122.27},
	"napa":                       {38.50, -122.27},
	"sonoma":                     {38.51, -122.80},
	"russian river":              {38.50, -122.88},
	"willamette valley":          {45.22, -123.08},
	"finger lakes":               {42.66, -76.92},
	"mendoza":                    {-32.89, -68.85},
	"maipo valley":               {-33.72, -70.73},
	"casablanca valley":          {-33.32, -71.41},
	"barossa valley":             {-34.53, 138.95},
	"yarra valley":               {-37.65, 145.45},
	"margaret river":             {-33.95, 115.07},
	"marlborough":                {-41.51, 173.86},
	"central otago":              {-45.03, 169.19},
	"stellenbosch":               {-33.93, 18.86},
}

// countryCentroids is the fallback when the region is unknown but the
// wine carries a country.
var countryCentroids = map[string]coordinates{
	"france":        {46.60, 2.45},
	"italy":         {42.80, 12.60},
	"spain":         {40.30, -3.70},
	"portugal":      {39.60, -8.00},
	"germany":       {50.00, 8.50},
	"austria":       {47.60, 15.50},
	"hungary":       {47.20, 19.50},
	"greece":        {38.50, 23.00},
	"united states": {38.50, -119.00},
	"usa":           {38.50, -119.00},
	"argentina":     {-33.00, -68.00},
	"chile":         {-34.00, -71.00},
	"australia":     {-34.50, 140.00},
	"new zealand":   {-41.50, 173.00},
	"south africa":  {-33.90, 19.00},
}

// referenceRegion is the last-resort coordinate: Bordeaux, the most
// broadly representative maritime growing climate.
var referenceRegion = coordinates{44.84, -0.58}

// NormalizeRegion canonicalizes a region name for table lookups and the
// weather_vintage unique key.
func NormalizeRegion(region string) string {
	s := strings.ToLower(strings.TrimSpace(region))
	s = strings.ReplaceAll(s, "é", "e")
	s = strings.ReplaceAll(s, "ô", "o")
	s = strings.ReplaceAll(s, "û", "u")
	return strings.Join(strings.Fields(s), " ")
}

// lookupBuiltin resolves a normalized region against the built-in table,
// tolerating qualified names like "margaux, bordeaux".
func lookupBuiltin(normalized string) (coordinates, bool) {
	if c, ok := wineRegions[normalized]; ok {
		return c, true
	}
	for name, c := range wineRegions {
		if strings.Contains(normalized, name) {
			return c, true
		}
	}
	return coordinates{}, false
}

func lookupCountry(country string) (coordinates, bool) {
	c, ok := countryCentroids[NormalizeRegion(country)]
	return c, ok
}
