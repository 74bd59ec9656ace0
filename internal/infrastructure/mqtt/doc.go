// Package mqtt connects pip-core to an MQTT broker.
//
// pip-core uses the broker as a side channel, never for device traffic:
//   - Retained device presence on pip/devices/{id}/presence, so dashboards
//     and other services can see which Pips are online and who controls them
//   - Firmware publish notifications on pip/firmware/published, which
//     trigger a firmware cache refresh
//   - Process liveness on pip/system/status, with a Last Will for crashes
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.FirmwarePublished(), 1,
//	    func(topic string, payload []byte) error {
//	        return cache.Refresh(ctx)
//	    })
package mqtt
