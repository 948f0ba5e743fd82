package conversation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// placeholderPattern matches {{variable_name}} slots in template bodies.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-z_][a-z0-9_]*)\s*\}\}`)

// MissingVariableError reports template slots that could not be filled from
// the conversation context. It is a hard stop for deterministic rendering;
// callers fall back to generative composition rather than sending a reply
// with empty slots.
type MissingVariableError struct {
	TemplateID string
	Variables  []string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("conversation: template %s missing variables: %s", e.TemplateID, strings.Join(e.Variables, ", "))
}

// Template is one deterministic reply body keyed by intent family.
type Template struct {
	ID      string
	Family  IntentFamily
	Body    string
	Version int64
}

// Variables returns the placeholder names the body references, sorted.
func (t Template) Variables() []string {
	matches := placeholderPattern.FindAllStringSubmatch(t.Body, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		out = append(out, m[1])
	}
	sort.Strings(out)
	return out
}

// BrandVoiceConfig constrains every outbound reply, templated or generated.
// Validate runs at startup; a misconfigured voice fails fast rather than
// letting off-brand replies reach guests.
type BrandVoiceConfig struct {
	Version              int64
	Tone                 string
	SignOff              string
	AllowedVariables     []string
	ForbiddenCommitments []string
}

// Validate checks the config is internally consistent.
func (b BrandVoiceConfig) Validate() error {
	if b.Version <= 0 {
		return fmt.Errorf("conversation: brand voice version must be positive, got %d", b.Version)
	}
	if len(b.AllowedVariables) == 0 {
		return fmt.Errorf("conversation: brand voice allows no variables")
	}
	for _, pattern := range b.ForbiddenCommitments {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("conversation: invalid forbidden commitment pattern %q: %w", pattern, err)
		}
	}
	return nil
}

func (b BrandVoiceConfig) allowed(variable string) bool {
	for _, v := range b.AllowedVariables {
		if v == variable {
			return true
		}
	}
	return false
}

// DefaultBrandVoice is the stock configuration used when a property has not
// customized its voice.
func DefaultBrandVoice() BrandVoiceConfig {
	return BrandVoiceConfig{
		Version: 1,
		Tone:    "warm, concise, professional",
		SignOff: "",
		AllowedVariables: []string{
			"guest_name", "property_name", "check_in_time", "check_out_time",
			"wifi_network", "wifi_password", "door_code", "address",
			"parking_info", "house_rules",
		},
		ForbiddenCommitments: []string{
			`(?i)\bfull\s+refund\b`,
			`(?i)\bwe\s+will\s+refund\b`,
			`(?i)\bfree\s+(night|stay|upgrade)\b`,
			`(?i)\bguarantee[ds]?\b`,
			`(?i)\b(discount|compensat(e|ion))\b`,
		},
	}
}

// TemplateCatalog resolves intent families to template families and renders
// them. Immutable after construction.
type TemplateCatalog struct {
	templates map[IntentFamily]Template
	voice     BrandVoiceConfig
}

// NewTemplateCatalog validates the voice and indexes templates by family.
// Panics on invalid voice config so misconfiguration surfaces at startup.
func NewTemplateCatalog(voice BrandVoiceConfig, templates []Template) *TemplateCatalog {
	if err := voice.Validate(); err != nil {
		panic(err)
	}
	indexed := make(map[IntentFamily]Template, len(templates))
	for _, t := range templates {
		if existing, ok := indexed[t.Family]; !ok || t.Version > existing.Version {
			indexed[t.Family] = t
		}
	}
	return &TemplateCatalog{templates: indexed, voice: voice}
}

// DefaultTemplates is the stock template set covering the common intent
// families.
func DefaultTemplates() []Template {
	return []Template{
		{ID: "wifi-v1", Family: IntentWiFi, Version: 1,
			Body: "Hi {{guest_name}}! The WiFi network at {{property_name}} is \"{{wifi_network}}\" and the password is {{wifi_password}}. Let us know if you have any trouble connecting."},
		{ID: "check-in-v1", Family: IntentCheckIn, Version: 1,
			Body: "Hi {{guest_name}}! Check-in at {{property_name}} starts at {{check_in_time}}. The door code is {{door_code}}. Safe travels, and let us know when you arrive!"},
		{ID: "check-out-v1", Family: IntentCheckOut, Version: 1,
			Body: "Hi {{guest_name}}! Check-out at {{property_name}} is by {{check_out_time}}. Just lock the door behind you. We hope you enjoyed your stay!"},
		{ID: "parking-v1", Family: IntentParking, Version: 1,
			Body: "Hi {{guest_name}}! Parking details for {{property_name}}: {{parking_info}}"},
		{ID: "directions-v1", Family: IntentDirections, Version: 1,
			Body: "Hi {{guest_name}}! {{property_name}} is located at {{address}}. Let us know if you need anything else to find your way."},
		{ID: "house-rules-v1", Family: IntentHouseRules, Version: 1,
			Body: "Hi {{guest_name}}! Here are the house rules for {{property_name}}: {{house_rules}}"},
	}
}

// Voice returns the active brand voice.
func (c *TemplateCatalog) Voice() BrandVoiceConfig { return c.voice }

// Lookup returns the current template for an intent family.
func (c *TemplateCatalog) Lookup(family IntentFamily) (Template, bool) {
	t, ok := c.templates[family]
	return t, ok
}

// Render substitutes variables into the template body. Variables outside the
// voice's allowlist are rejected; unresolved placeholders after substitution
// are a MissingVariableError, never an empty slot in guest-facing text.
func (c *TemplateCatalog) Render(t Template, vars map[string]string) (string, error) {
	var missing []string
	body := placeholderPattern.ReplaceAllStringFunc(t.Body, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if !c.voice.allowed(name) {
			missing = append(missing, name)
			return match
		}
		value, ok := vars[name]
		if !ok || strings.TrimSpace(value) == "" {
			missing = append(missing, name)
			return match
		}
		return value
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", &MissingVariableError{TemplateID: t.ID, Variables: missing}
	}
	if c.voice.SignOff != "" {
		body = body + "\n\n" + c.voice.SignOff
	}
	return body, nil
}

// ResolveVariables projects the conversation context into the template
// variable namespace. Only non-empty values appear; missing data surfaces as
// a MissingVariableError at render time.
func ResolveVariables(convCtx *ConversationContext) map[string]string {
	if convCtx == nil {
		return nil
	}
	vars := make(map[string]string)
	put := func(key, value string) {
		if strings.TrimSpace(value) != "" {
			vars[key] = value
		}
	}
	put("guest_name", convCtx.Booking.GuestName)
	put("property_name", convCtx.Property.Name)
	put("address", convCtx.Property.Address)
	put("check_in_time", convCtx.Property.CheckInTime)
	put("check_out_time", convCtx.Property.CheckOutTime)
	put("wifi_network", convCtx.Property.WiFiNetwork)
	put("wifi_password", convCtx.Property.WiFiPassword)
	put("door_code", convCtx.Property.DoorCode)
	put("parking_info", convCtx.Property.ParkingInfo)
	put("house_rules", convCtx.Property.HouseRules)
	return vars
}
