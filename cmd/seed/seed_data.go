package main

import "dosimetry-platform/internal/models"

// builtinSeed returns a small working dataset for each type so a fresh
// install can calculate doses before any uploads happen.
func builtinSeed(t models.DatasetType) (header []string, records [][]string) {
	switch t {
	case models.DatasetKQTable:
		return models.DatasetColumns(t), [][]string{
			{"FarmerA", "6MV", "0.98"},
			{"FarmerA", "10MV", "0.973"},
			{"FarmerA", "15MV", "0.968"},
			{"FarmerB", "6MV", "0.992"},
			{"FarmerB", "10MV", "0.985"},
			{"FarmerB", "15MV", "0.979"},
			{"SemiflexC", "6MV", "0.975"},
			{"SemiflexC", "10MV", "0.968"},
			{"SemiflexC", "15MV", "0.962"},
		}

	case models.DatasetPDDTable:
		return models.DatasetColumns(t), [][]string{
			{"6", "5", "1.5", "1.00"},
			{"6", "5", "5", "0.78"},
			{"6", "5", "10", "0.62"},
			{"6", "10", "1.5", "1.00"},
			{"6", "10", "5", "0.80"},
			{"6", "10", "10", "0.65"},
			{"6", "10", "15", "0.52"},
			{"6", "10", "20", "0.42"},
			{"10", "10", "2.4", "1.00"},
			{"10", "10", "5", "0.86"},
			{"10", "10", "10", "0.73"},
			{"10", "10", "15", "0.62"},
			{"10", "10", "20", "0.53"},
		}

	case models.DatasetTPRTable:
		return models.DatasetColumns(t), [][]string{
			{"6", "10", "5", "0.88"},
			{"6", "10", "10", "0.75"},
			{"6", "10", "15", "0.63"},
			{"6", "10", "20", "0.53"},
			{"10", "10", "5", "0.92"},
			{"10", "10", "10", "0.81"},
			{"10", "10", "15", "0.71"},
			{"10", "10", "20", "0.62"},
		}

	case models.DatasetChamberDefaults:
		return models.DatasetColumns(t), [][]string{
			{"FarmerA", "5.2", "0.6", "1.0"},
			{"FarmerB", "5.35", "0.6", "-1.0"},
			{"SemiflexC", "8.1", "0.275", "1.0"},
		}

	case models.DatasetEnvironmentalData:
		return models.DatasetColumns(t), [][]string{
			{"Lagos", "28", "100.9"},
			{"London", "15", "101.1"},
			{"New York", "22", "101.3"},
			{"Mumbai", "30", "100.6"},
			{"Nairobi", "19", "83.5"},
		}
	}

	return nil, nil
}
