package tone

import (
	"sync"

	"github.com/brandtone/brandtone/internal/config"
	"github.com/brandtone/brandtone/internal/logger"
	"go.uber.org/zap"
)

// Profile describes a target writing style
type Profile struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Characteristics []string `json:"characteristics"`
	Example         string   `json:"example"`
}

// Registry holds the available tone profiles. Profiles keep their
// registration order so listings stay stable.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	profiles map[string]Profile
}

// NewRegistry creates a registry with the default profiles plus any
// config-provided custom tones.
func NewRegistry(cfg config.TonesConfig, log *logger.Logger) *Registry {
	registry := &Registry{
		profiles: make(map[string]Profile),
	}

	for _, profile := range defaultProfiles() {
		registry.add(profile)
	}

	for _, custom := range cfg.Custom {
		profile := Profile{
			Name:            custom.Name,
			Description:     custom.Description,
			Characteristics: custom.Characteristics,
			Example:         custom.Example,
		}
		if !registry.Add(profile) {
			log.Warn("Custom tone ignored, name already taken", zap.String("tone", custom.Name))
		}
	}

	log.Info("Tone registry initialized", zap.Int("profiles", len(registry.profiles)))

	return registry
}

// Add registers a new profile. It reports false and leaves the registry
// unchanged when a profile with the same name already exists.
func (r *Registry) Add(profile Profile) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.profiles[profile.Name]; exists {
		return false
	}

	r.add(profile)
	return true
}

func (r *Registry) add(profile Profile) {
	r.order = append(r.order, profile.Name)
	r.profiles[profile.Name] = profile
}

// Get returns the profile for a tone name
func (r *Registry) Get(name string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, ok := r.profiles[name]
	return profile, ok
}

// Names lists the available tone names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// List returns all profiles in registration order
func (r *Registry) List() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profiles := make([]Profile, 0, len(r.order))
	for _, name := range r.order {
		profiles = append(profiles, r.profiles[name])
	}
	return profiles
}

// defaultProfiles returns the built-in brand tone profiles
func defaultProfiles() []Profile {
	return []Profile{
		{
			Name:        "casual",
			Description: "Friendly, conversational, and approachable. Uses contractions, simpler vocabulary, and a personal tone.",
			Characteristics: []string{
				"Uses contractions (don't, we're, it's)",
				"Employs first and second person (we, you)",
				"Incorporates colloquial expressions",
				"Uses shorter sentences and paragraphs",
				"Asks rhetorical questions occasionally",
			},
			Example: "Hey there! We're excited to show you our new product. It's designed with you in mind, and we think you'll love how easy it is to use.",
		},
		{
			Name:        "formal",
			Description: "Professional, authoritative, and precise. Avoids contractions, uses complex vocabulary, and maintains emotional distance.",
			Characteristics: []string{
				"Avoids contractions",
				"Uses third person perspective predominantly",
				"Employs precise vocabulary and technical terms when appropriate",
				"Maintains longer, more complex sentence structures",
				"Avoids colloquialisms and slang",
			},
			Example: "Company XYZ is pleased to announce the launch of its latest innovation. The product has been meticulously engineered to deliver optimal performance and efficiency for all users.",
		},
		{
			Name:        "playful",
			Description: "Energetic, humorous, and engaging. Uses wordplay, creative language, and conveys excitement.",
			Characteristics: []string{
				"Incorporates wordplay and puns",
				"Uses more exclamatory statements (limited to one ! per sentence)",
				"Employs creative metaphors and analogies",
				"Keeps sentences varied but generally shorter",
				"Occasionally breaks conventional grammar rules for effect",
			},
			Example: "Ready for a wild ride? Our new gadget isn't just a tool—it's your new sidekick! Think of it as the Swiss Army knife of software, but way more fun.",
		},
		{
			Name:        "technical",
			Description: "Precise, detailed, and data-driven. Focuses on specifications, functionality, and technical benefits.",
			Characteristics: []string{
				"Uses industry-specific terminology accurately",
				"Emphasizes specifications and technical features",
				"Maintains logical flow with clear transitions",
				"Incorporates data points and measurable benefits",
				"Minimizes emotional language in favor of factual statements",
			},
			Example: "The XJ-5000 features a 2.4GHz quad-core processor with 16GB RAM, enabling 40% faster rendering compared to previous models. Its proprietary cooling system maintains optimal operating temperature under high-load conditions.",
		},
		{
			Name:        "genz",
			Description: "Ultra-casual, internet-savvy, and relatable. Uses Gen-Z slang, abbreviations, and a very conversational tone while keeping it PG-13.",
			Characteristics: []string{
				"Uses modern internet slang and abbreviations (e.g., 'fr' for for real, 'lowkey', 'highkey')",
				"Employs emojis and casual punctuation (!!, !!, !?, ??)",
				"Uses first and second person liberally",
				"Short, punchy sentences with occasional sentence fragments",
				"References internet culture and memes when appropriate",
				"Keeps language casual but professional enough for most brands",
				"Uses abbreviations like 'tbh', 'ngl', 'imo' naturally",
			},
			Example: "okay so this new drop is actually fire 🔥 ngl we went all out on this one. it's giving major main character energy fr. tap in before it's gone!!",
		},
	}
}
