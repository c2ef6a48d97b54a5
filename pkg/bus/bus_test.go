package bus_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/storacha/linkdex/pkg/bus"
	"github.com/storacha/linkdex/pkg/bus/events"
)

func TestOn(t *testing.T) {
	b := bus.New()
	topic := events.TopicArchive("carpark")

	var seen []events.ArchiveState
	off, err := bus.On(b, topic, func(v events.ArchiveView) {
		seen = append(seen, v.State)
	})
	require.NoError(t, err)

	b.Publish(topic, events.ArchiveView{State: events.Indexing})
	b.Publish(events.TopicArchive("other"), events.ArchiveView{State: events.Failed})
	off()
	b.Publish(topic, events.ArchiveView{State: events.Indexed})

	require.Equal(t, []events.ArchiveState{events.Indexing}, seen)
}
