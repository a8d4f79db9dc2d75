// Package model defines the estimator contracts shared by every classifier
// and transformer in exoml.
//
// Class labels inside estimators are dense integer codes 0..k-1 stored as
// float64 in an n×1 column matrix; the pipeline package owns the mapping to
// and from the string labels found in the data.
package model

import "gonum.org/v1/gonum/mat"

// Fitter は学習可能なモデルのインターフェース
type Fitter interface {
	// Fit はモデルを訓練データで学習させる
	Fit(X, y mat.Matrix) error
}

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	// Predict は入力データに対する予測を行う
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// Transformer は数値行列を変換するコンポーネントのインターフェース
// (StandardScaler, 数値列の SimpleImputer など)
type Transformer interface {
	Fit(X mat.Matrix) error
	Transform(X mat.Matrix) (mat.Matrix, error)
	FitTransform(X mat.Matrix) (mat.Matrix, error)
}

// ParameterGetter exposes hyperparameters under their sklearn names.
type ParameterGetter interface {
	GetParams() map[string]interface{}
}

// ParameterSetter updates hyperparameters by sklearn name. Unknown names
// return a ValidationError.
type ParameterSetter interface {
	SetParams(params map[string]interface{}) error
}

// Estimator is the common surface of every fittable component.
type Estimator interface {
	ParameterGetter
	ParameterSetter
	IsFitted() bool
}

// Classifier is implemented by all estimators in sklearn/*.
type Classifier interface {
	Estimator
	Fitter
	Predictor

	// PredictProba returns an n×k matrix whose columns follow Classes().
	PredictProba(X mat.Matrix) (mat.Matrix, error)

	// Classes returns the class codes seen during fitting, ascending.
	Classes() []int

	// Clone returns an unfitted copy with the same hyperparameters.
	Clone() Classifier
}

// SampleWeighter is implemented by classifiers that accept per-sample weights.
type SampleWeighter interface {
	FitWeighted(X, y mat.Matrix, sampleWeight []float64) error
}
