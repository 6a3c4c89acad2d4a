package musiccast

import "fmt"

// Action is a command verb from the bus. The set is closed; unknown verbs
// are logic errors surfaced to the caller, never device-fatal.
type Action string

// The full action vocabulary.
const (
	ActionPowerOn  Action = "POWER_ON"
	ActionPowerOff Action = "POWER_OFF"

	ActionSetVolume  Action = "SET_VOLUME"
	ActionVolumeUp   Action = "VOLUME_UP"
	ActionVolumeDown Action = "VOLUME_DOWN"

	ActionMuteOn     Action = "MUTE_ON"
	ActionMuteOff    Action = "MUTE_OFF"
	ActionMuteToggle Action = "MUTE_TOGGLE"

	ActionGetInputs     Action = "GET_INPUTS"
	ActionSetInput      Action = "SET_INPUT"
	ActionInputCD       Action = "INPUT_CD"
	ActionInputNetRadio Action = "INPUT_NETRADIO"
	ActionInputTuner    Action = "INPUT_TUNER"
	ActionInputSpotify  Action = "INPUT_SPOTIFY"

	ActionGetSources     Action = "GET_SOURCES"
	ActionSetSource      Action = "SET_SOURCE"
	ActionSourceCD       Action = "SOURCE_CD"
	ActionSourceNetRadio Action = "SOURCE_NETRADIO"
	ActionSourceTuner    Action = "SOURCE_TUNER"
	ActionSourceSpotify  Action = "SOURCE_SPOTIFY"

	ActionCDBack    Action = "CD_BACK"
	ActionCDForward Action = "CD_FORWARD"
	ActionCDPause   Action = "CD_PAUSE"
	ActionCDPlay    Action = "CD_PLAY"
	ActionCDStop    Action = "CD_STOP"

	ActionSpotifyPlayPause Action = "SPOTIFY_PLAYPAUSE"
	ActionSpotifyBack      Action = "SPOTIFY_BACK"
	ActionSpotifyForward   Action = "SPOTIFY_FORWARD"

	ActionTunerPreset    Action = "TUNER_PRESET"
	ActionNetRadioPreset Action = "NETRADIO_PRESET"
)

// Arguments is the free-form argument bag attached to a command.
type Arguments map[string]any

// Int returns the integer argument under key, accepting the number shapes
// a decoded JSON payload can carry.
func (a Arguments) Int(key string) (int, error) {
	v, ok := a[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q argument", ErrLogic, key)
	}
	n, err := asInt(v)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %q argument", ErrLogic, key)
	}
	return n, nil
}

// String returns the string argument under key.
func (a Arguments) String(key string) (string, error) {
	v, ok := a[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %q argument", ErrLogic, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q argument is %T, want string", ErrLogic, key, v)
	}
	return s, nil
}

// Bool returns the boolean argument under key.
func (a Arguments) Bool(key string) (bool, error) {
	v, ok := a[key]
	if !ok {
		return false, fmt.Errorf("%w: missing %q argument", ErrLogic, key)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %q argument is %T, want bool", ErrLogic, key, v)
	}
	return b, nil
}

// Reply is the outcome of a command handed back to the caller's reply sink.
type Reply struct {
	// Response is "OK" on success or empty when the command failed.
	Response string
	// Reason is a human-readable elaboration.
	Reason string
	// Data carries structured results for query actions (input lists etc).
	Data any
}
