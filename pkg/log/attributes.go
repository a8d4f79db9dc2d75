package log

// Standard attribute keys. Keys are dotted so log queries can filter on a
// prefix ("data.", "perf.", "http.").

// Model and operation context.
const (
	ModelNameKey   = "model.name"
	ModelKindKey   = "model.kind"
	EstimatorIDKey = "estimator.id"
	OperationKey   = "ml.operation"
	ComponentKey   = "ml.component"
	PhaseKey       = "ml.phase"
)

// Data shape. ColumnsKey carries column names, e.g. the columns dropped
// during cleaning.
const (
	SamplesKey  = "data.samples"
	FeaturesKey = "data.features"
	ClassesKey  = "data.classes"
	ColumnsKey  = "data.columns"
	DataPathKey = "data.path"
)

// Performance and training progress.
const (
	DurationMsKey = "perf.duration_ms"
	AccuracyKey   = "metrics.accuracy"
	F1MacroKey    = "metrics.f1_macro"
	LossKey       = "metrics.loss"
	ScoreKey      = "metrics.score"
	IterationKey  = "training.iteration"
	EpochKey      = "training.epoch"
	FoldKey       = "training.fold"
)

// Predictions.
const (
	PredsKey      = "preds.count"
	ConfidenceKey = "preds.confidence"
)

// Errors.
const (
	ErrorCodeKey  = "error.code"
	ErrorTypeKey  = "error.type"
	StacktraceKey = "error.stacktrace"
)

// Configuration and artifacts.
const (
	HyperParamsKey = "model.hyperparams"
	RandomSeedKey  = "config.random_seed"
	PresetKey      = "config.preset"
	ArtifactDirKey = "artifact.dir"
	RunIDKey       = "artifact.run_id"
)

// HTTP serving.
const (
	RequestIDKey  = "http.request_id"
	MethodKey     = "http.method"
	PathKey       = "http.path"
	StatusCodeKey = "http.status"
)

// Standard attribute values.
const (
	OperationFit          = "fit"
	OperationPredict      = "predict"
	OperationTransform    = "transform"
	OperationFitTransform = "fit_transform"
	OperationScore        = "score"

	PhaseTraining      = "training"
	PhaseValidation    = "validation"
	PhaseTesting       = "testing"
	PhaseInference     = "inference"
	PhasePreprocessing = "preprocessing"

	ErrorNotFitted         = "NOT_FITTED"
	ErrorDimensionMismatch = "DIMENSION_MISMATCH"
	ErrorEmptyData         = "EMPTY_DATA"
	ErrorInvalidInput      = "INVALID_INPUT"
	ErrorConvergence       = "CONVERGENCE_FAILURE"
)
