package company

// Profile describes the company whose voice generated texts should carry.
// Field names follow the on-disk profile document.
type Profile struct {
	Name        string   `json:"nombre_empresa" yaml:"nombre_empresa"`
	Sector      string   `json:"sector" yaml:"sector"`
	Description string   `json:"descripcion" yaml:"descripcion"`
	Mission     string   `json:"mision" yaml:"mision"`
	Vision      string   `json:"vision" yaml:"vision"`
	Values      []string `json:"valores" yaml:"valores"`
	Tone        Tone     `json:"tono_comunicacion" yaml:"tono_comunicacion"`
	Extra       Extra    `json:"contexto_adicional" yaml:"contexto_adicional"`
	Keywords    []string `json:"palabras_clave" yaml:"palabras_clave"`
	Messages    []string `json:"mensajes_frecuentes" yaml:"mensajes_frecuentes"`
}

// Tone is the expected communication style.
type Tone struct {
	Style  string   `json:"estilo" yaml:"estilo"`
	Traits []string `json:"caracteristicas" yaml:"caracteristicas"`
}

// Extra holds the free-form context blocks of the profile.
type Extra struct {
	Services   []string `json:"servicios_principales" yaml:"servicios_principales"`
	Highlights []string `json:"puntos_destacados" yaml:"puntos_destacados"`
	Focus      string   `json:"enfoque" yaml:"enfoque"`
}

// DefaultProfile is the starter profile written by EnsureDefault.
func DefaultProfile() Profile {
	return Profile{
		Name:        "Mi Empresa",
		Sector:      "Servicios",
		Description: "Descripción de la empresa",
		Mission:     "Misión de la empresa",
		Vision:      "Visión de la empresa",
		Values:      []string{"Valor 1", "Valor 2"},
		Tone: Tone{
			Style:  "Profesional",
			Traits: []string{"Claro", "Directo"},
		},
		Extra: Extra{
			Services:   []string{},
			Highlights: []string{},
		},
		Keywords: []string{},
		Messages: []string{},
	}
}

func copyProfile(p *Profile) Profile {
	if p == nil {
		return Profile{}
	}
	cp := *p
	cp.Values = cloneStrings(p.Values)
	cp.Tone.Traits = cloneStrings(p.Tone.Traits)
	cp.Extra.Services = cloneStrings(p.Extra.Services)
	cp.Extra.Highlights = cloneStrings(p.Extra.Highlights)
	cp.Keywords = cloneStrings(p.Keywords)
	cp.Messages = cloneStrings(p.Messages)
	return cp
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
