package keyfilter

import "strings"

// Dataset types reported by inventory statistics.
const (
	DatasetTrades     = "trades"
	DatasetKlines     = "klines"
	DatasetBookDepth  = "bookDepth"
	DatasetAggTrades  = "aggTrades"
	DatasetBookTicker = "bookTicker"
	DatasetOther      = "other"
)

// datasetOrder is the match order. aggTrades contains "Trades" but not
// "trades", and must still be tested before the plain trades type.
var datasetOrder = []string{
	DatasetAggTrades,
	DatasetBookTicker,
	DatasetBookDepth,
	DatasetKlines,
	DatasetTrades,
}

// DatasetTypes returns every dataset type in report order.
func DatasetTypes() []string {
	return []string{DatasetTrades, DatasetKlines, DatasetBookDepth, DatasetAggTrades, DatasetBookTicker, DatasetOther}
}

// DatasetType returns the dataset type a key belongs to, judged by a
// "/<type>/" path segment or a "-<type>-" file name component.
func DatasetType(key string) string {
	for _, t := range datasetOrder {
		if strings.Contains(key, "/"+t+"/") || strings.Contains(key, "-"+t+"-") {
			return t
		}
	}
	return DatasetOther
}
