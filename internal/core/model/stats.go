package model

type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Processed  int `json:"processed"`
	Errors     int `json:"errors"`
	Anomalies  int `json:"anomalies"`
	Critical   int `json:"critical"`
}

// ComputeStats aggregates counters over the whole collection.
func ComputeStats(items []InspectionItem) Stats {
	s := Stats{Total: len(items)}
	for _, it := range items {
		switch it.Status {
		case StatusPending:
			s.Pending++
		case StatusProcessing:
			s.Processing++
		case StatusCompleted:
			s.Processed++
		case StatusError:
			s.Errors++
		}
		if it.Result != nil {
			s.Anomalies += len(it.Result.FoundAnomalies)
			s.Critical += it.Result.CriticalCount()
		}
	}
	return s
}
