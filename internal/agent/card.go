package agent

const (
	EntrypointFindInteractions = "find_interactions"

	cardName        = "GloBI (Global Biotic Interactions)"
	cardDescription = "Finds recorded interactions between organisms of different taxonomic groups."
	cardIcon        = "https://raw.githubusercontent.com/globalbioticinteractions/logo/refs/heads/main/globi_256x256.png"

	findInteractionsDescription = "Generates a list of taxonomic groups that have a certain type of interaction with a" +
		" taxonomic group of interest. For example, this entrypoint can list organisms that" +
		" prey on Rattus rattus."
)

type Card struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Icon        string       `json:"icon"`
	URL         string       `json:"url"`
	Entrypoints []Entrypoint `json:"entrypoints"`
}

// Entrypoint parameters are always null: the request text is the only input.
type Entrypoint struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

func (a *Agent) Card() Card {
	return Card{
		Name:        cardName,
		Description: cardDescription,
		Icon:        cardIcon,
		URL:         a.publicURL,
		Entrypoints: []Entrypoint{
			{ID: EntrypointFindInteractions, Description: findInteractionsDescription},
		},
	}
}
