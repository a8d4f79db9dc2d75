// Package exoml trains and serves classifiers that predict the TESS Follow-up
// Observing Program disposition of exoplanet candidates from tabular
// catalog data.
//
// exoml offers a scikit-learn-like API in Go: a feature plan that imputes,
// scales and one-hot encodes columns, native estimators (random forest,
// extra trees, histogram and xgboost-style gradient boosting, logistic
// regression, SVC, dense networks, stacking), grid search, and an artifact
// bundle that the inference runner and HTTP server consume.
//
// # Quick Start
//
//	exoml train --input toi.csv --config rf --outdir artifacts
//	exoml infer --input new.csv --artifacts artifacts/20250101_120000 --with-proba
//	exoml serve --artifacts artifacts --addr :8000
//
// Library use:
//
//	cfg, err := config.Resolve("stack_basic")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := train.Run(train.Options{Input: "toi.csv", Config: cfg, OutDir: "artifacts"})
//
// # Packages
//
//   - config: run configuration, presets and the shallow merge
//   - dataset: table loading, cleaning strategies, stratified split
//   - preprocessing: imputers, scaler, one-hot encoder, the feature plan
//   - sklearn/...: estimators on gonum matrices
//   - models: the model and pipeline factory
//   - pipeline: feature plan + classifier with label encoding
//   - model_selection: k-fold splitters, parameter grids, grid search
//   - metrics: classification metrics and the text report
//   - artifact: run directories, bundle files, plots, run catalog
//   - train, infer: the training orchestrator and inference runner
//   - server, chatbot: HTTP endpoints
//   - core/model, core/parallel, pkg/errors, pkg/log: shared infrastructure
package exoml

// Version is recorded in every artifact bundle.
const Version = "0.3.0"
