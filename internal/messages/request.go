package messages

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"grabber/internal/queue"
	"grabber/internal/services"
	"grabber/internal/siteloader"
)

// Command names a message type.
type Command string

const (
	CommandTrigger             Command = "trigger"
	CommandUpdateVideoInfo     Command = "updateVideoInfo"
	CommandRestoreState        Command = "requestToRestoreState"
	CommandClearCache          Command = "clearCache"
	CommandStopAllDownloads    Command = "stopAllDownloads"
	CommandDeleteExtensionData Command = "deleteExtensionData"
	CommandPauseDownload       Command = "pauseDownload"
	CommandResumeDownload      Command = "resumeDownload"
)

var commands = []Command{
	CommandTrigger,
	CommandUpdateVideoInfo,
	CommandRestoreState,
	CommandClearCache,
	CommandStopAllDownloads,
	CommandDeleteExtensionData,
	CommandPauseDownload,
	CommandResumeDownload,
}

// Commands lists every known command.
func Commands() []Command {
	return slices.Clone(commands)
}

// ErrUnknownCommand reports an envelope whose type is not a known command.
var ErrUnknownCommand = errors.New("unknown command")

// Envelope is the wire form of a message.
type Envelope struct {
	Type    Command         `json:"type"`
	Message json.RawMessage `json:"message,omitempty"`
}

// Request is one decoded message. Only this package defines variants.
type Request interface {
	Command() Command
	isRequest()
}

// TriggerRequest starts, or toggles off, the downloads of a movie.
type TriggerRequest struct {
	Initiator siteloader.Initiator
}

// UpdateVideoInfoRequest asks for the seasons and streams of a page.
type UpdateVideoInfoRequest struct {
	SiteType  queue.SiteType    `json:"site_type,omitempty"`
	SiteURL   string            `json:"siteURL"`
	MovieData map[string]string `json:"movieData"`
}

// RestoreStateRequest answers the restore prompt.
type RestoreStateRequest struct {
	Permission bool
}

// ClearCacheRequest drops every cached site response.
type ClearCacheRequest struct{}

// StopAllDownloadsRequest cancels every active and pending download.
type StopAllDownloadsRequest struct{}

// DeleteExtensionDataRequest cancels everything and wipes the persisted state.
type DeleteExtensionDataRequest struct{}

// PauseDownloadRequest suspends the running transfer of a load item.
type PauseDownloadRequest struct {
	LoadItemID int64 `json:"loadItemId"`
}

// ResumeDownloadRequest continues the paused transfer of a load item.
type ResumeDownloadRequest struct {
	LoadItemID int64 `json:"loadItemId"`
}

func (TriggerRequest) Command() Command             { return CommandTrigger }
func (UpdateVideoInfoRequest) Command() Command     { return CommandUpdateVideoInfo }
func (RestoreStateRequest) Command() Command        { return CommandRestoreState }
func (ClearCacheRequest) Command() Command          { return CommandClearCache }
func (StopAllDownloadsRequest) Command() Command    { return CommandStopAllDownloads }
func (DeleteExtensionDataRequest) Command() Command { return CommandDeleteExtensionData }
func (PauseDownloadRequest) Command() Command       { return CommandPauseDownload }
func (ResumeDownloadRequest) Command() Command      { return CommandResumeDownload }

func (TriggerRequest) isRequest()             {}
func (UpdateVideoInfoRequest) isRequest()     {}
func (RestoreStateRequest) isRequest()        {}
func (ClearCacheRequest) isRequest()          {}
func (StopAllDownloadsRequest) isRequest()    {}
func (DeleteExtensionDataRequest) isRequest() {}
func (PauseDownloadRequest) isRequest()       {}
func (ResumeDownloadRequest) isRequest()      {}

// Decode parses an envelope from raw JSON.
func Decode(data []byte) (Request, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, services.Wrap(services.ErrValidation, "messages", "decode", "malformed envelope", err)
	}
	return DecodeEnvelope(env)
}

// DecodeEnvelope turns an envelope into its Request variant.
func DecodeEnvelope(env Envelope) (Request, error) {
	switch env.Type {
	case CommandTrigger:
		var initiator siteloader.Initiator
		if err := decodePayload(env, &initiator); err != nil {
			return nil, err
		}
		return TriggerRequest{Initiator: initiator}, nil
	case CommandUpdateVideoInfo:
		var req UpdateVideoInfoRequest
		if err := decodePayload(env, &req); err != nil {
			return nil, err
		}
		if req.SiteType == "" {
			req.SiteType = queue.SiteHDrezka
		}
		return req, nil
	case CommandRestoreState:
		var permission bool
		if err := decodePayload(env, &permission); err != nil {
			return nil, err
		}
		return RestoreStateRequest{Permission: permission}, nil
	case CommandClearCache:
		return ClearCacheRequest{}, nil
	case CommandStopAllDownloads:
		return StopAllDownloadsRequest{}, nil
	case CommandDeleteExtensionData:
		return DeleteExtensionDataRequest{}, nil
	case CommandPauseDownload:
		var req PauseDownloadRequest
		if err := decodeLoadItemID(env, &req.LoadItemID); err != nil {
			return nil, err
		}
		return req, nil
	case CommandResumeDownload:
		var req ResumeDownloadRequest
		if err := decodeLoadItemID(env, &req.LoadItemID); err != nil {
			return nil, err
		}
		return req, nil
	default:
		return nil, services.Wrap(services.ErrValidation, "messages", "decode", fmt.Sprintf("command %q", env.Type), ErrUnknownCommand)
	}
}

func decodePayload(env Envelope, dst any) error {
	raw := bytes.TrimSpace(env.Message)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return services.Wrap(services.ErrValidation, "messages", "decode", fmt.Sprintf("%s requires a message", env.Type), nil)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return services.Wrap(services.ErrValidation, "messages", "decode", fmt.Sprintf("%s message", env.Type), err)
	}
	return nil
}

func decodeLoadItemID(env Envelope, dst *int64) error {
	var payload struct {
		LoadItemID int64 `json:"loadItemId"`
	}
	if err := decodePayload(env, &payload); err != nil {
		return err
	}
	if payload.LoadItemID <= 0 {
		return services.Wrap(services.ErrValidation, "messages", "decode", fmt.Sprintf("%s requires a loadItemId", env.Type), nil)
	}
	*dst = payload.LoadItemID
	return nil
}

// Encode builds the envelope of a request.
func Encode(req Request) (Envelope, error) {
	env := Envelope{Type: req.Command()}
	var payload any
	switch r := req.(type) {
	case TriggerRequest:
		payload = r.Initiator
	case UpdateVideoInfoRequest:
		payload = r
	case RestoreStateRequest:
		payload = r.Permission
	case PauseDownloadRequest, ResumeDownloadRequest:
		payload = r
	case ClearCacheRequest, StopAllDownloadsRequest, DeleteExtensionDataRequest:
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", env.Type, err)
	}
	env.Message = raw
	return env, nil
}
