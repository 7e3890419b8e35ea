package telemetry

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTracer_Stdout(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	var buf bytes.Buffer

	shutdown, err := InitTracer(Settings{
		ServiceName:  "parley-test",
		ExporterType: ExporterStdout,
		Writer:       &buf,
	}, logger)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "jobs.process")
	span.End()
	shutdown()

	assert.Contains(t, buf.String(), "jobs.process")
	assert.Contains(t, buf.String(), "parley-test")
}

func TestInitTracer_UnknownExporter(t *testing.T) {
	_, err := InitTracer(Settings{ServiceName: "x", ExporterType: "zipkin"}, logrus.New())
	assert.ErrorContains(t, err, "unknown trace exporter")
}
