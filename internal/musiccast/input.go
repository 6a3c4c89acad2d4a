package musiccast

// Input is one selectable input on a device, identified by the vendor id
// from the capability tree's input_list ("cd", "net_radio", "av1", ...).
type Input struct {
	ID string
}

// Source is an input that originates content itself (tuner, disc,
// streaming) and carries play-info state through its group's PlayInfo.
type Source struct {
	Input
	playInfo PlayInfo
}

// PlayInfo returns the play-info group this source belongs to.
func (s *Source) PlayInfo() PlayInfo { return s.playInfo }

// Feed is an input that is physically wired to another device's output
// zone. The remote wiring comes from the static system topology; the live
// remote device reference is resolved lazily once all devices are known,
// and stays nil for feeds pointing at non-MusicCast hardware.
type Feed struct {
	Input

	// RemoteDeviceID and RemoteZoneID name the wired remote end.
	RemoteDeviceID string
	RemoteZoneID   string

	// remoteDevice is the live actor behind the feed; nil until resolved,
	// and permanently nil for non-MusicCast remotes.
	remoteDevice *Device

	// remoteSources lists the sources a non-MusicCast remote declares in
	// the topology. Used for the blind-switch fallback.
	remoteSources []string

	// remoteAmplified marks feeds whose remote zone is dedicated to a
	// physical location; such zones are never powered on as a side effect.
	remoteAmplified bool
}

// Resolved reports whether the feed points at a live MusicCast actor.
func (f *Feed) Resolved() bool { return f.remoteDevice != nil }

// RemoteDeclares reports whether a non-MusicCast remote declares sourceID.
func (f *Feed) RemoteDeclares(sourceID string) bool {
	for _, s := range f.remoteSources {
		if s == sourceID {
			return true
		}
	}
	return false
}
