// Package messages defines the command surface of the daemon.
//
// Clients send a JSON envelope {"type": <command>, "message": <payload>}.
// Decode turns it into one of the Request variants; the set is closed, so a
// type switch in the Dispatcher covers every command. Retry alarms enter
// through HandleAlarm.
package messages
