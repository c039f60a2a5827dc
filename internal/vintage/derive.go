package vintage

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/sommos/sommos/internal/clients/openmeteo"
	"github.com/sommos/sommos/internal/domain"
)

// Derivation constants from the viticultural literature
const (
	gddBase       = 10.0 // °C, base for growing degree days
	heatwaveTemp  = 35.0 // °C, daily max counting as a heatwave day
	frostTemp     = 0.0  // °C, daily min counting as a frost day
	wetDayMM      = 1.0  // mm, precipitation counting as a wet day
)

// Overall score weights. Disease pressure contributes inverted: low
// pressure is good.
const (
	weightRipeness = 0.35
	weightAcidity  = 0.25
	weightTannin   = 0.20
	weightDisease  = 0.20
)

// GrowingSeason returns the daily-data window for a harvest year.
// Northern hemisphere: April through October of the year. Southern:
// October of the prior year through April of the harvest year.
func GrowingSeason(year int, lat float64) (time.Time, time.Time) {
	if lat >= 0 {
		return time.Date(year, time.April, 1, 0, 0, 0, 0, time.UTC),
			time.Date(year, time.October, 31, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(year-1, time.October, 1, 0, 0, 0, 0, time.UTC),
		time.Date(year, time.April, 30, 0, 0, 0, 0, time.UTC)
}

// huglinCoefficient approximates the day-length correction of the Huglin
// index from latitude. 1.00 at or below 40°, rising to 1.06 at 50°.
func huglinCoefficient(lat float64) float64 {
	abs := math.Abs(lat)
	switch {
	case abs <= 40:
		return 1.00
	case abs >= 50:
		return 1.06
	default:
		return 1.00 + (abs-40)*0.006
	}
}

// Derive computes the full weather derivation from a raw daily series.
// Pure: identical inputs always produce identical rows.
func Derive(region string, year int, lat float64, source string, series *openmeteo.DailySeries) domain.WeatherVintage {
	wv := domain.WeatherVintage{
		Region:           NormalizeRegion(region),
		Year:             year,
		ResolutionSource: source,
	}

	days := len(series.Time)
	k := huglinCoefficient(lat)

	diurnals := make([]float64, 0, days)
	valid := 0
	for i := 0; i < days; i++ {
		if i >= len(series.TempMax) || i >= len(series.TempMin) || i >= len(series.TempMean) {
			break
		}
		tMax, tMin, tMean := series.TempMax[i], series.TempMin[i], series.TempMean[i]
		valid++

		wv.GDD += math.Max(0, tMean-gddBase)
		wv.HuglinIndex += math.Max(0, ((tMean-gddBase)+(tMax-gddBase))/2) * k
		diurnals = append(diurnals, tMax-tMin)

		if tMax > heatwaveTemp {
			wv.HeatwaveDays++
		}
		if tMin < frostTemp {
			wv.FrostDays++
		}
		if i < len(series.Precipitation) {
			wv.PrecipitationTotal += series.Precipitation[i]
			if series.Precipitation[i] >= wetDayMM {
				wv.WetDays++
			}
		}
	}

	if len(diurnals) > 0 {
		wv.DiurnalRange = stat.Mean(diurnals, nil)
	}

	wv.RipenessScore = ripenessScore(wv.GDD)
	wv.AcidityScore = acidityScore(wv.DiurnalRange, wv.HeatwaveDays)
	wv.TanninScore = tanninScore(wv.GDD, wv.HeatwaveDays)
	wv.DiseaseScore = diseaseScore(wv.WetDays, wv.PrecipitationTotal)

	wv.OverallScore = overallScore(wv)
	wv.Confidence = confidence(source, valid, days)
	return wv
}

// ripenessScore maps seasonal GDD onto [1,5]. The sweet band for
// quality wine sits around 1300-1700 GDD.
func ripenessScore(gdd float64) float64 {
	switch {
	case gdd < 900:
		return 1
	case gdd < 1150:
		return 2
	case gdd < 1300:
		return 3
	case gdd <= 1700:
		return 5
	case gdd <= 2000:
		return 4
	case gdd <= 2300:
		return 3
	default:
		return 2
	}
}

// acidityScore rewards wide diurnal swings, which preserve malic acid,
// and penalizes heat spikes that burn it off.
func acidityScore(diurnal float64, heatwaveDays int) float64 {
	score := 1.0
	switch {
	case diurnal >= 14:
		score = 5
	case diurnal >= 11:
		score = 4
	case diurnal >= 8:
		score = 3
	case diurnal >= 5:
		score = 2
	}
	score -= float64(heatwaveDays) * 0.1
	return clampScore(score)
}

// tanninScore follows ripeness with a penalty for heat stress, which
// halts phenolic development.
func tanninScore(gdd float64, heatwaveDays int) float64 {
	score := ripenessScore(gdd)
	if heatwaveDays > 10 {
		score -= 1
	} else if heatwaveDays > 5 {
		score -= 0.5
	}
	return clampScore(score)
}

// diseaseScore measures fungal pressure: more wet days and rain mean
// higher pressure (5 = severe).
func diseaseScore(wetDays int, precipitation float64) float64 {
	score := 1.0
	switch {
	case wetDays >= 80:
		score = 5
	case wetDays >= 60:
		score = 4
	case wetDays >= 40:
		score = 3
	case wetDays >= 25:
		score = 2
	}
	if precipitation > 600 {
		score += 1
	}
	return clampScore(score)
}

// overallScore blends the sub-scores into [0,100]. Each sub-score is
// rescaled from [1,5]; disease pressure contributes inverted.
func overallScore(wv domain.WeatherVintage) float64 {
	unit := func(s float64) float64 { return (s - 1) / 4 }
	blended := weightRipeness*unit(wv.RipenessScore) +
		weightAcidity*unit(wv.AcidityScore) +
		weightTannin*unit(wv.TanninScore) +
		weightDisease*(1-unit(wv.DiseaseScore))
	return math.Round(blended*1000) / 10
}

// confidence reflects both how the coordinates were resolved and how
// complete the daily series is.
func confidence(source string, valid, expected int) float64 {
	base := 0.3
	switch source {
	case SourceBuiltin:
		base = 0.90
	case SourceGeocode:
		base = 0.75
	case SourceCountry:
		base = 0.50
	}

	completeness := 0.0
	if expected > 0 {
		completeness = float64(valid) / float64(expected)
	}
	return math.Round(base*completeness*100) / 100
}

func clampScore(s float64) float64 {
	if s < 1 {
		return 1
	}
	if s > 5 {
		return 5
	}
	return s
}
