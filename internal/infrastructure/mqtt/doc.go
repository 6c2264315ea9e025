// Package mqtt connects the SIAMP server to the broker the lights use.
//
// Each light owns three channels under a configurable prefix:
//
//	lights/{deviceId}/command    commands published by the server
//	lights/{deviceId}/state      state reports published by the device
//	lights/{deviceId}/heartbeat  liveness published by the device
//
// The client reconnects with backoff, restores its subscriptions after a
// reconnect, and keeps a retained presence message on lights/$server/status
// (with a Last Will for crashes).
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.AllDeviceStates(), 1, reconciler.HandleMessage)
//
// Use TLS (broker.tls: true) for any broker reachable off-host.
package mqtt
