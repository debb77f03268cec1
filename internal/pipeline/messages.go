package pipeline

// User-facing texts for failure outcomes, keyed by config locale.
// Internal diagnostics stay in the logs; users get these instead.
type localeTexts struct {
	NoProvider string
	Failed     string
	Capped     string
}

var locales = map[string]localeTexts{
	"en": {
		NoProvider: "No LLM provider is configured. Please contact the administrator.",
		Failed:     "Something went wrong while generating a reply. Please try again later.",
		Capped:     "I had to stop before finishing that request. Try asking in a simpler way.",
	},
	"zh": {
		NoProvider: "未配置 LLM 提供商，请联系管理员。",
		Failed:     "生成回复时出错了，请稍后再试。",
		Capped:     "这个请求太复杂了，我不得不中途停下。请尝试简化问题。",
	},
}

func textsFor(locale string) localeTexts {
	if t, ok := locales[locale]; ok {
		return t
	}
	return locales["en"]
}
