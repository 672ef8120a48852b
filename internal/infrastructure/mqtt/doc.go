// Package mqtt is droidpilot's broker session.
//
// Each process opens one session: a bot run names it after the bot, the
// queue names it "queue". A session
//   - publishes JSON status, stats and events (PublishJSON)
//   - subscribes to the bot command topic and restores it on reconnect
//   - announces presence on droidpilot/system/{session}/status, with a
//     will message for unclean exits
//
// MQTT is optional. With mqtt.enabled false no session is opened, and a
// failed Connect leaves the run going without status or remote control.
//
// Broker credentials should come from DROIDPILOT_MQTT_USERNAME and
// DROIDPILOT_MQTT_PASSWORD rather than the config file.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT, "farm")
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.BotStats("farm"), stats, false)
package mqtt
