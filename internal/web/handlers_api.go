package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"openrgb-go-home/internal/controller"
	"openrgb-go-home/internal/proto"
	"openrgb-go-home/internal/session"
	"openrgb-go-home/internal/store"
)

type modeView struct {
	Name      string   `json:"name"`
	Flags     uint32   `json:"flags"`
	SpeedMin  uint32   `json:"speed_min"`
	SpeedMax  uint32   `json:"speed_max"`
	Speed     uint32   `json:"speed"`
	Direction uint32   `json:"direction"`
	ColorMode uint32   `json:"color_mode"`
	ColorsMin uint32   `json:"colors_min"`
	ColorsMax uint32   `json:"colors_max"`
	Colors    []string `json:"colors"`
}

type zoneView struct {
	Name      string `json:"name"`
	Type      uint32 `json:"type"`
	LedsMin   uint32 `json:"leds_min"`
	LedsMax   uint32 `json:"leds_max"`
	LedsCount uint32 `json:"leds_count"`
	Resizable bool   `json:"resizable"`
}

type deviceView struct {
	Index        uint32     `json:"index"`
	Name         string     `json:"name"`
	FriendlyName string     `json:"friendly_name,omitempty"`
	Type         uint32     `json:"type"`
	Description  string     `json:"description"`
	Version      string     `json:"version"`
	Serial       string     `json:"serial"`
	Location     string     `json:"location"`
	ActiveMode   string     `json:"active_mode"`
	Modes        []modeView `json:"modes"`
	Zones        []zoneView `json:"zones"`
	Leds         []string   `json:"leds"`
	Colors       []string   `json:"colors"`
	FetchedAt    time.Time  `json:"fetched_at"`
}

func hexColors(colors []proto.Color) []string {
	out := make([]string, len(colors))
	for i, c := range colors {
		out[i] = c.Hex()
	}
	return out
}

func newDeviceView(d *store.Device) deviceView {
	c := &d.Controller
	v := deviceView{
		Index:        d.Index,
		Name:         c.Name,
		FriendlyName: d.FriendlyName,
		Type:         c.Type,
		Description:  c.Description,
		Version:      c.Version,
		Serial:       c.Serial,
		Location:     c.Location,
		Modes:        make([]modeView, len(c.Modes)),
		Zones:        make([]zoneView, len(c.Zones)),
		Leds:         make([]string, len(c.Leds)),
		Colors:       hexColors(c.Colors),
		FetchedAt:    d.FetchedAt,
	}
	if c.ActiveMode >= 0 && int(c.ActiveMode) < len(c.Modes) {
		v.ActiveMode = c.Modes[c.ActiveMode].Name
	}
	for i, m := range c.Modes {
		v.Modes[i] = modeView{
			Name:      m.Name,
			Flags:     m.Flags,
			SpeedMin:  m.SpeedMin,
			SpeedMax:  m.SpeedMax,
			Speed:     m.Speed,
			Direction: m.Direction,
			ColorMode: m.ColorMode,
			ColorsMin: m.ColorsMin,
			ColorsMax: m.ColorsMax,
			Colors:    hexColors(m.Colors),
		}
	}
	for i, z := range c.Zones {
		v.Zones[i] = zoneView{
			Name:      z.Name,
			Type:      z.Type,
			LedsMin:   z.LedsMin,
			LedsMax:   z.LedsMax,
			LedsCount: z.LedsCount,
			Resizable: z.LedsMin != z.LedsMax,
		}
	}
	for i, l := range c.Leds {
		v.Leds[i] = l.Name
	}
	return v
}

// writeControllerError maps controller and session failures to HTTP statuses.
func (s *Server) writeControllerError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, controller.ErrInvalidID):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, controller.ErrInvalidColorAmount),
		errors.Is(err, controller.ErrInvalidMode),
		errors.Is(err, controller.ErrInvalidSize):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, controller.ErrNotConnected),
		errors.Is(err, session.ErrTransport),
		errors.Is(err, session.ErrSessionUnusable),
		errors.Is(err, proto.ErrProtocolMismatch),
		errors.Is(err, proto.ErrUnexpectedVariant),
		errors.Is(err, proto.ErrUnknownCommand),
		errors.Is(err, proto.ErrLengthMismatch),
		errors.Is(err, proto.ErrUnexpectedEOD),
		errors.Is(err, proto.ErrMalformedText),
		errors.Is(err, proto.ErrInputTooLarge):
		s.logger.Warn(op, "err", err)
		s.writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error(op, "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func pathUint(r *http.Request, name string) (uint32, bool) {
	n, err := strconv.ParseUint(r.PathValue(name), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func parseColors(in []string) ([]proto.Color, error) {
	out := make([]proto.Color, len(in))
	for i, str := range in {
		c, err := controller.ParseColor(str)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.ctrl.Devices()
	out := make([]deviceView, len(devices))
	for i, d := range devices {
		out[i] = newDeviceView(d)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	index, ok := pathUint(r, "index")
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid device index")
		return
	}
	dev, err := s.ctrl.Device(index)
	if err != nil {
		s.writeControllerError(w, "get device", err)
		return
	}
	s.writeJSON(w, http.StatusOK, newDeviceView(dev))
}

type renameDeviceRequest struct {
	FriendlyName string `json:"friendly_name"`
}

func (s *Server) handleAPIRenameDevice(w http.ResponseWriter, r *http.Request) {
	index, ok := pathUint(r, "index")
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid device index")
		return
	}
	var req renameDeviceRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.ctrl.Rename(index, req.FriendlyName); err != nil {
		s.writeControllerError(w, "rename device", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "friendly_name": req.FriendlyName})
}

type colorRequest struct {
	Color  string   `json:"color"`
	Colors []string `json:"colors"`
}

func (s *Server) handleAPISetColor(w http.ResponseWriter, r *http.Request) {
	index, ok := pathUint(r, "index")
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid device index")
		return
	}
	var req colorRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	var err error
	switch {
	case len(req.Colors) > 0:
		colors, perr := parseColors(req.Colors)
		if perr != nil {
			s.writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		err = s.ctrl.SetColors(r.Context(), index, colors)
	case req.Color != "":
		c, perr := controller.ParseColor(req.Color)
		if perr != nil {
			s.writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		err = s.ctrl.SetColor(r.Context(), index, c)
	default:
		s.writeError(w, http.StatusBadRequest, "color or colors required")
		return
	}
	if err != nil {
		s.writeControllerError(w, "set color", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPISetLEDColor(w http.ResponseWriter, r *http.Request) {
	index, ok := pathUint(r, "index")
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid device index")
		return
	}
	led, ok := pathUint(r, "led")
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid led index")
		return
	}
	var req colorRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	c, err := controller.ParseColor(req.Color)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.ctrl.SetLEDColor(r.Context(), index, led, c); err != nil {
		s.writeControllerError(w, "set led color", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// zoneFromPath accepts a zone index or a zone name.
func (s *Server) zoneFromPath(r *http.Request, index uint32) (uint32, error) {
	if zone, ok := pathUint(r, "zone"); ok {
		return zone, nil
	}
	return s.ctrl.ZoneIndex(index, r.PathValue("zone"))
}

func (s *Server) handleAPISetZoneColor(w http.ResponseWriter, r *http.Request) {
	index, ok := pathUint(r, "index")
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid device index")
		return
	}
	zone, err := s.zoneFromPath(r, index)
	if err != nil {
		s.writeControllerError(w, "set zone color", err)
		return
	}
	var req colorRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	switch {
	case len(req.Colors) > 0:
		colors, perr := parseColors(req.Colors)
		if perr != nil {
			s.writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		err = s.ctrl.SetZoneColors(r.Context(), index, zone, colors)
	case req.Color != "":
		c, perr := controller.ParseColor(req.Color)
		if perr != nil {
			s.writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		err = s.ctrl.SetZoneColor(r.Context(), index, zone, c)
	default:
		s.writeError(w, http.StatusBadRequest, "color or colors required")
		return
	}
	if err != nil {
		s.writeControllerError(w, "set zone color", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type resizeRequest struct {
	Size uint32 `json:"size"`
}

func (s *Server) handleAPIResizeZone(w http.ResponseWriter, r *http.Request) {
	index, ok := pathUint(r, "index")
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid device index")
		return
	}
	zone, err := s.zoneFromPath(r, index)
	if err != nil {
		s.writeControllerError(w, "resize zone", err)
		return
	}
	var req resizeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.ctrl.ResizeZone(r.Context(), index, zone, req.Size); err != nil {
		s.writeControllerError(w, "resize zone", err)
		return
	}
	dev, err := s.ctrl.Device(index)
	if err != nil {
		s.writeControllerError(w, "resize zone", err)
		return
	}
	s.writeJSON(w, http.StatusOK, newDeviceView(dev))
}

type modeRequest struct {
	Mode   string   `json:"mode"`
	Speed  *uint32  `json:"speed,omitempty"`
	Colors []string `json:"colors,omitempty"`
}

func (s *Server) handleAPISetMode(w http.ResponseWriter, r *http.Request) {
	index, ok := pathUint(r, "index")
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid device index")
		return
	}
	var req modeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Mode == "" {
		s.writeError(w, http.StatusBadRequest, "mode required")
		return
	}

	colors, err := parseColors(req.Colors)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if len(colors) > 0 {
		err = s.ctrl.SetModeColors(ctx, index, req.Mode, colors)
	}
	if err == nil && req.Speed != nil {
		err = s.ctrl.SetModeSpeed(ctx, index, req.Mode, *req.Speed)
	}
	if err == nil && len(colors) == 0 && req.Speed == nil {
		err = s.ctrl.SetMode(ctx, index, req.Mode)
	}
	if err != nil {
		s.writeControllerError(w, "set mode", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "mode": req.Mode})
}

func (s *Server) handleAPIRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Refresh(r.Context()); err != nil {
		s.writeControllerError(w, "refresh", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"count": len(s.ctrl.Devices())})
}

func (s *Server) handleAPIReconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Reconnect(r.Context()); err != nil {
		s.writeControllerError(w, "reconnect", err)
		return
	}
	if err := s.ctrl.Refresh(r.Context()); err != nil {
		s.writeControllerError(w, "reconnect", err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.ctrl.ServerInfo())
}

func (s *Server) handleAPIServerInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ctrl.ServerInfo())
}
