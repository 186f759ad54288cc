package pricing

// Price is a per-million-token input/output rate in USD.
type Price struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// defaultKey is the fallback entry used when no exact or substring match
// is found.
const defaultKey = "_default"

// builtin is the always-available price table, used when the remote
// overlay is stale, unfetchable, or missing an entry. Rates are per
// million tokens in USD.
var builtin = map[string]Price{
	"gpt-4o":                    {2.50, 10.00},
	"gpt-4o-mini":               {0.15, 0.60},
	"gpt-4-turbo":               {10.00, 30.00},
	"gpt-4":                     {30.00, 60.00},
	"gpt-3.5-turbo":             {0.50, 1.50},
	"o1":                        {15.00, 60.00},
	"o1-mini":                   {3.00, 12.00},
	"o1-preview":                {15.00, 60.00},
	"o3":                        {15.00, 60.00},
	"o3-mini":                   {1.10, 4.40},
	"claude-sonnet-4":           {3.00, 15.00},
	"claude-4-sonnet":           {3.00, 15.00},
	"claude-opus-4":             {15.00, 75.00},
	"claude-4-opus":             {15.00, 75.00},
	"claude-3-5-sonnet":         {3.00, 15.00},
	"claude-3.5-sonnet":         {3.00, 15.00},
	"claude-3-5-haiku":          {0.80, 4.00},
	"claude-3.5-haiku":          {0.80, 4.00},
	"claude-3-sonnet":           {3.00, 15.00},
	"claude-3-opus":             {15.00, 75.00},
	"claude-3-haiku":            {0.25, 1.25},
	"claude-sonnet":             {3.00, 15.00},
	"claude-opus":               {15.00, 75.00},
	"claude-haiku":              {0.80, 4.00},
	"gemini-2.5-pro":            {1.25, 10.00},
	"gemini-2.5-flash":          {0.075, 0.30},
	"gemini-2.5-flash-preview":  {0.075, 0.30},
	"gemini-2.0-flash":          {0.10, 0.40},
	"gemini-2.0-flash-lite":     {0.075, 0.30},
	"gemini-2.0-flash-exp":      {0.10, 0.40},
	"gemini-1.5-pro":            {1.25, 5.00},
	"gemini-1.5-flash":          {0.075, 0.30},
	defaultKey:                  {0.15, 0.60},
}
