package engine

import "fleetbridge/store"

// missionEmitter adapts the EventBus to the mission.EventEmitter interface,
// so the tracker stays free of engine types.
type missionEmitter struct {
	bus *EventBus
}

func (e *missionEmitter) EmitMissionTransition(m store.Mission, prevState string) {
	e.bus.Emit(Event{Type: EventMissionTransition, Payload: MissionTransitionEvent{
		Mission: m, PrevState: prevState,
	}})
}

func (e *missionEmitter) EmitMissionStale(m store.Mission) {
	e.bus.Emit(Event{Type: EventMissionStale, Payload: MissionStaleEvent{Mission: m}})
}
