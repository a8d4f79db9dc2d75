package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scierrors "github.com/YuminosukeSato/exoml/pkg/errors"
)

func TestTestLogger_Levels(t *testing.T) {
	testLogger, buffer := NewTestLogger(LevelDebug)

	testLogger.Debug("debug message", "key1", "value1", "number", 42)
	testLogger.Info("info message", OperationKey, OperationFit)
	testLogger.Warn("warning message")
	testLogger.Error("error message", fmt.Errorf("boom"), ErrorCodeKey, ErrorInvalidInput)

	require.NotEmpty(t, buffer.String())
	assert.True(t, testLogger.ContainsMessage("debug message"))
	assert.True(t, testLogger.ContainsMessage("error message"))
	assert.True(t, testLogger.ContainsField("key1", "value1"))
	assert.True(t, testLogger.ContainsField("number", 42.0))
	assert.True(t, testLogger.ContainsField("error", "boom"))
	assert.True(t, testLogger.ContainsField(ErrorCodeKey, ErrorInvalidInput))
}

func TestTestLogger_WithSharesBuffer(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelDebug)
	ctxLogger := testLogger.With(ModelNameKey, "random_forest", ComponentKey, "train")
	ctxLogger.Info("fit complete", SamplesKey, 120)

	assert.True(t, testLogger.ContainsField(ModelNameKey, "random_forest"))
	assert.True(t, testLogger.ContainsField(SamplesKey, 120.0))
}

func TestTestLogger_Enabled(t *testing.T) {
	testLogger, buffer := NewTestLogger(LevelWarn)
	ctx := context.Background()

	assert.False(t, testLogger.Enabled(ctx, LevelDebug))
	assert.False(t, testLogger.Enabled(ctx, LevelInfo))
	assert.True(t, testLogger.Enabled(ctx, LevelWarn))
	assert.True(t, testLogger.Enabled(ctx, LevelError))

	testLogger.Info("hidden")
	testLogger.Warn("shown")
	assert.NotContains(t, buffer.String(), "hidden")
	assert.Contains(t, buffer.String(), "shown")
}

func TestTestLoggerProvider(t *testing.T) {
	provider, buffer := NewTestLoggerProvider(LevelDebug)
	provider.GetLoggerWithName("dataset").Info("loaded", DataPathKey, "toi.csv")

	assert.Contains(t, buffer.String(), `"ml.component":"dataset"`)

	provider.SetLevel(LevelError)
	provider.GetLogger().Info("dropped")
	assert.NotContains(t, buffer.String(), "dropped")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestZerologProvider_JSON(t *testing.T) {
	var buf bytes.Buffer
	provider := NewZerologProvider(&buf, "json", LevelInfo)

	logger := provider.GetLoggerWithName("train").With(PresetKey, "rf")
	logger.Debug("not emitted")
	logger.Info("fit complete", SamplesKey, 10, AccuracyKey, 0.9)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "fit complete", lines[0]["message"])
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "train", lines[0][ComponentKey])
	assert.Equal(t, "rf", lines[0][PresetKey])
	assert.Equal(t, 10.0, lines[0][SamplesKey])
}

func TestZerologProvider_ErrorWithStack(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologProvider(&buf, "json", LevelDebug).GetLogger()

	logger.Error("load failed", errors.New("bad artifact"), ArtifactDirKey, "/tmp/run")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "bad artifact", lines[0]["error"])
	assert.Equal(t, "/tmp/run", lines[0][ArtifactDirKey])
	assert.NotEmpty(t, lines[0][StacktraceKey])
}

func TestZerologProvider_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	provider := NewZerologProvider(&buf, "json", LevelInfo)
	provider.SetLevel(LevelError)

	logger := provider.GetLogger()
	assert.False(t, logger.Enabled(context.Background(), LevelWarn))
	logger.Warn("quiet")
	assert.Empty(t, buf.String())
}

func TestZerologProvider_Console(t *testing.T) {
	var buf bytes.Buffer
	NewZerologProvider(&buf, "console", LevelInfo).GetLogger().Info("hello console")
	assert.Contains(t, buf.String(), "hello console")
}

func TestSetupLogger_RoutesWarnings(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SetupLogger("info", "json", &buf))
	defer func() {
		SetProvider(NewZerologProvider(&bytes.Buffer{}, "json", LevelInfo))
		scierrors.SetZerologWarnFunc(nil)
	}()

	scierrors.Warn(scierrors.NewPlotWarning("test_cm.png", "no backend"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "warn", lines[0]["level"])
	assert.Equal(t, "warnings", lines[0][ComponentKey])
	assert.Equal(t, "*errors.PlotWarning", lines[0][ErrorTypeKey])
}

func TestSetupLogger_InvalidInput(t *testing.T) {
	assert.Error(t, SetupLogger("loud", "json", nil))
	assert.Error(t, SetupLogger("info", "xml", nil))
}

func TestGlobalProvider(t *testing.T) {
	provider, buffer := NewTestLoggerProvider(LevelDebug)
	SetProvider(provider)
	defer SetProvider(NewZerologProvider(&bytes.Buffer{}, "json", LevelInfo))

	GetLoggerWithName("server").Info("listening", PathKey, "/predict")
	assert.Contains(t, buffer.String(), "listening")
	assert.True(t, provider.Logger().ContainsField(ComponentKey, "server"))
}

func TestConcurrentLogging(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelInfo)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			l := testLogger.With(FoldKey, id)
			for i := 0; i < 10; i++ {
				l.Info("fold progress", IterationKey, i)
			}
		}(g)
	}
	wg.Wait()

	entries, err := testLogger.GetLogEntries()
	require.NoError(t, err)
	assert.Len(t, entries, 80)
}
