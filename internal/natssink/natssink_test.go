package natssink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adiibanez/sensocto/internal/config"
)

func TestConnectRequiresAddress(t *testing.T) {
	_, err := Connect(nil, "sensocto.measurements")
	require.Error(t, err)

	_, err = Connect(&config.NatsConfig{}, "sensocto.measurements")
	require.Error(t, err)
}

func TestSubjectForBuildsPerSensorSubject(t *testing.T) {
	s := &Sink{subjectPrefix: "sensocto.measurements"}
	assert.Equal(t, "sensocto.measurements.s1", s.subjectFor("s1"))
}

func TestSubjectForKeepsPrefixForAnySensorID(t *testing.T) {
	s := &Sink{subjectPrefix: "sensocto.measurements"}
	assert.Equal(t, "sensocto.measurements.any-sensor", s.subjectFor("any-sensor"))
}
