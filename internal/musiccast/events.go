package musiccast

import (
	"context"
	"fmt"
)

// eventHandler absorbs one key/value pair from a device event. A nil
// handler in the schema means the key is recognized but deliberately
// ignored.
type eventHandler func(ctx context.Context, d *Device, value any) error

// zoneHandler lifts a zone mutator into an eventHandler for the named
// zone. Notification fires only when the cached state actually changed.
func zoneHandler(zoneID string, mutate func(z *Zone, value any) (bool, error)) eventHandler {
	return func(_ context.Context, d *Device, value any) error {
		z := d.zone(zoneID)
		if z == nil {
			return fmt.Errorf("%w: device %s has no zone %s", ErrLogic, d.Name(), zoneID)
		}
		changed, err := mutate(z, value)
		if err != nil {
			return err
		}
		if changed {
			z.notify()
		}
		return nil
	}
}

// zoneRefreshHandler schedules a settle-delay status refresh for the
// named zone when the device reports its status changed.
func zoneRefreshHandler(zoneID string) eventHandler {
	return func(_ context.Context, d *Device, value any) error {
		updated, ok := value.(bool)
		if ok && !updated {
			return nil
		}
		z := d.zone(zoneID)
		if z == nil {
			return fmt.Errorf("%w: device %s has no zone %s", ErrLogic, d.Name(), zoneID)
		}
		z.statusPending = true
		return nil
	}
}

// playInfoHandler lifts a play-info mutator into an eventHandler for the
// source backed by the given play-info type.
func playInfoHandler(t PlayType, apply func(ctx context.Context, pi PlayInfo, value any) error) eventHandler {
	return func(ctx context.Context, d *Device, value any) error {
		pi := d.playInfo(t)
		if pi == nil {
			return fmt.Errorf("%w: device %s has no %s source", ErrLogic, d.Name(), t)
		}
		return apply(ctx, pi, value)
	}
}

func refreshPlayInfo(t PlayType) eventHandler {
	return playInfoHandler(t, func(ctx context.Context, pi PlayInfo, _ any) error {
		return pi.RefreshPlayInfo(ctx)
	})
}

func refreshPresetInfo(t PlayType) eventHandler {
	return playInfoHandler(t, func(ctx context.Context, pi PlayInfo, _ any) error {
		return pi.RefreshPresetInfo(ctx)
	})
}

func updatePlayTime(t PlayType) eventHandler {
	return playInfoHandler(t, func(_ context.Context, pi PlayInfo, value any) error {
		return pi.UpdatePlayTime(value)
	})
}

func updatePlayMessage(t PlayType) eventHandler {
	return playInfoHandler(t, func(_ context.Context, pi PlayInfo, value any) error {
		return pi.UpdatePlayMessage(value)
	})
}

// zoneEventSchema builds the per-key handler map shared by the zone
// qualifiers that carry state updates.
func zoneEventSchema(zoneID string) map[string]eventHandler {
	return map[string]eventHandler{
		"power":               zoneHandler(zoneID, (*Zone).UpdatePower),
		"input":               zoneHandler(zoneID, (*Zone).UpdateInput),
		"volume":              zoneHandler(zoneID, (*Zone).UpdateVolume),
		"mute":                zoneHandler(zoneID, (*Zone).UpdateMute),
		"status_updated":      zoneRefreshHandler(zoneID),
		"signal_info_updated": nil,
	}
}

// eventSchema maps qualifier -> key -> handler for every event key the
// protocol is known to emit. Unknown qualifiers and keys are logged and
// skipped, never fatal.
var eventSchema = map[string]map[string]eventHandler{
	"system": {
		"bluetooth_info_updated":   nil,
		"func_status_updated":      nil,
		"speaker_settings_updated": nil,
		"name_text_updated":        nil,
		"tag_updated":              nil,
		"location_info_updated":    nil,
		"stereo_pair_info_updated": nil,
	},
	"main":  zoneEventSchema("main"),
	"zone2": zoneEventSchema("zone2"),
	"zone3": {},
	"zone4": {},
	"tuner": {
		"play_info_updated":   refreshPlayInfo(PlayTypeTuner),
		"preset_info_updated": refreshPresetInfo(PlayTypeTuner),
	},
	"netusb": {
		"play_error":           nil,
		"multiple_play_errors": nil,
		"play_message":         updatePlayMessage(PlayTypeNetUSB),
		"account_updated":      nil,
		"play_time":            updatePlayTime(PlayTypeNetUSB),
		"preset_info_updated":  refreshPresetInfo(PlayTypeNetUSB),
		"recent_info_updated":  nil,
		"preset_control":       nil,
		"trial_status":         nil,
		"trial_time_left":      nil,
		"play_info_updated":    refreshPlayInfo(PlayTypeNetUSB),
		"list_info_updated":    nil,
	},
	"cd": {
		"device_status":     nil,
		"play_time":         updatePlayTime(PlayTypeCD),
		"play_info_updated": refreshPlayInfo(PlayTypeCD),
	},
	"dist": {
		"dist_info_updated": nil,
	},
	"clock": {
		"settings_updated": nil,
	},
	"device_id": nil,
}

// DispatchEvent walks a decoded event payload against the schema and
// applies every matched handler. Handler failures are isolated: one bad
// key never stops the rest of the event from being absorbed, and the
// first error is returned after the walk completes.
func (d *Device) DispatchEvent(ctx context.Context, event map[string]any) error {
	var firstErr error
	for qualifier, raw := range event {
		keys, ok := eventSchema[qualifier]
		if !ok {
			d.logger.Info("unknown event qualifier skipped",
				"device_id", d.ID, "qualifier", qualifier)
			continue
		}
		if keys == nil {
			continue
		}
		body, ok := raw.(map[string]any)
		if !ok {
			d.logger.Info("event qualifier carries no object, skipped",
				"device_id", d.ID, "qualifier", qualifier)
			continue
		}
		for key, value := range body {
			handler, ok := keys[key]
			if !ok {
				d.logger.Info("unknown event key skipped",
					"device_id", d.ID, "qualifier", qualifier, "key", key)
				continue
			}
			if handler == nil {
				continue
			}
			if err := handler(ctx, d, value); err != nil {
				d.logger.Warn("event handler failed",
					"device_id", d.ID, "qualifier", qualifier, "key", key, "error", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}
