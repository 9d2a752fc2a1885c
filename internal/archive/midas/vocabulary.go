// Package midas reads the Met Office MIDAS Open archive as distributed by
// CEDA: one BADC-CSV file per dataset, station and year.
package midas

import (
	"github.com/opencdms/opencdms-process/internal/core/model"
	"github.com/opencdms/opencdms-process/internal/filter"
)

// Family is the archive family name MIDAS Open registers under.
const Family = "midas-open"

const (
	HourlyWeather = "uk-hourly-weather-obs"
	HourlyRain    = "uk-hourly-rain-obs"
	DailyTemp     = "uk-daily-temperature-obs"
	DailyRain     = "uk-daily-rain-obs"
)

// timeColumns names the column holding the observation time of each dataset.
var timeColumns = map[string]string{
	HourlyWeather: "ob_time",
	HourlyRain:    "ob_end_time",
	DailyTemp:     "ob_end_time",
	DailyRain:     "ob_date",
}

func code(p model.Period, table, column string) model.ElementCode {
	return model.ElementCode{Name: column, Period: p, Table: table, Column: column}
}

var codes = []model.ElementCode{
	code(model.PeriodHourly, HourlyWeather, "wind_speed"),
	code(model.PeriodHourly, HourlyWeather, "wind_direction"),
	code(model.PeriodHourly, HourlyWeather, "air_temperature"),
	code(model.PeriodHourly, HourlyWeather, "dewpoint"),
	code(model.PeriodHourly, HourlyWeather, "wetb_temp"),
	code(model.PeriodHourly, HourlyWeather, "rltv_hum"),
	code(model.PeriodHourly, HourlyWeather, "msl_pressure"),
	code(model.PeriodHourly, HourlyWeather, "stn_pres"),
	code(model.PeriodHourly, HourlyWeather, "visibility"),
	code(model.PeriodHourly, HourlyRain, "prcp_amt"),
	code(model.PeriodHourly, HourlyRain, "prcp_dur"),
	code(model.PeriodDaily, DailyTemp, "max_air_temp"),
	code(model.PeriodDaily, DailyTemp, "min_air_temp"),
	code(model.PeriodDaily, DailyTemp, "min_grss_temp"),
	code(model.PeriodDaily, DailyTemp, "min_conc_temp"),
	code(model.PeriodDaily, DailyRain, "prcp_amt"),
}

// Vocabulary returns the element names MIDAS Open knows, per period.
func Vocabulary() *filter.Vocabulary {
	return filter.NewVocabulary(Family, codes...)
}

// Datasets returns every dataset directory name the vocabulary refers to.
func Datasets() []string {
	return []string{HourlyWeather, HourlyRain, DailyTemp, DailyRain}
}
