// Package mqtt connects the transfer daemon to an MQTT broker.
//
// The daemon publishes its state and events for dashboards and line
// controllers, and accepts operator commands, under one subtree per station:
//
//	transferd/{station}/state/{mode,phase,position,io}   retained
//	transferd/{station}/event/{cycle,fault,homing}
//	transferd/{station}/command/{connect,disconnect,home,auto}
//	transferd/{station}/system/status                     retained, also the LWT
//
// The client reconnects automatically and restores its subscriptions.
// Handlers run on paho goroutines with panic recovery.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Station.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Publish(client.Topics().State("mode"), payload, true)
package mqtt
