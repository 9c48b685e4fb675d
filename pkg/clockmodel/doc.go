// ABOUTME: Clock model package for device tick to host UTC mapping
// ABOUTME: Affine regression over RTT-filtered ping round trips
// Package clockmodel estimates the relationship between a device's
// free-running tick counter and host UTC.
//
// Each ping round trip contributes one (tick, host time) sample, with
// the host time taken as the midpoint of the round trip. Samples with a
// round trip above the configured ceiling are discarded. Once enough
// samples accumulate, an ordinary least-squares fit over a sliding
// window yields the gain and offset used to resolve trigger ticks.
//
// Example:
//
//	model := clockmodel.New(clockmodel.DefaultConfig())
//	model.AddMeasurement(sendTime, recvTime, tick)
//	when, err := model.Resolve(triggerTick)
package clockmodel
