package config

// presets are partial overrides merged onto the defaults like a file.
var presets = map[string]map[string]interface{}{
	"rf": {
		"model": map[string]interface{}{
			"name":   "random_forest",
			"params": map[string]interface{}{"n_estimators": 300, "class_weight": "balanced", "random_state": 42},
		},
		"notes": "random forest preset",
	},
	"extra_trees": {
		"model": map[string]interface{}{
			"name":   "extra_trees",
			"params": map[string]interface{}{"n_estimators": 400, "class_weight": "balanced", "random_state": 42},
		},
		"notes": "extra trees preset",
	},
	"xgb": {
		"model": map[string]interface{}{
			"name":   "xgb",
			"params": map[string]interface{}{"n_estimators": 600, "learning_rate": 0.05, "max_depth": 6, "random_state": 42},
		},
		"notes": "gradient boosted trees (xgboost parameters)",
	},
	"histgb": {
		"model": map[string]interface{}{
			"name":   "histgb",
			"params": map[string]interface{}{"max_iter": 300, "learning_rate": 0.1, "class_weight": "balanced", "random_state": 42},
		},
		"notes": "histogram gradient boosting preset",
	},
	"logreg": {
		"model": map[string]interface{}{
			"name":   "logreg",
			"params": map[string]interface{}{"C": 1.0, "class_weight": "balanced"},
		},
		"notes": "logistic regression preset",
	},
	"svc": {
		"model": map[string]interface{}{
			"name":   "svc",
			"params": map[string]interface{}{"kernel": "rbf", "C": 1.0, "gamma": "scale", "class_weight": "balanced", "random_state": 42},
		},
		"notes": "support vector classifier preset",
	},
	"mlp": {
		"model": map[string]interface{}{
			"name":   "mlp",
			"params": map[string]interface{}{"epochs": 60, "batch_size": 128, "random_state": 42},
		},
		"notes": "dense network preset",
	},
	"stack_basic": {
		"stacking": map[string]interface{}{"enabled": true},
		"notes":    "stacking of xgb and rf with a logistic meta model",
	},
	"rf_grid": {
		"grid_search": map[string]interface{}{"enabled": true},
		"notes":       "random forest with grid search",
	},
}
