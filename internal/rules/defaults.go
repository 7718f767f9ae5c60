package rules

import "tracer/internal/model"

// Defaults returns the built-in taxonomy. It is compiled eagerly; the
// patterns below are fixed strings so compilation cannot fail.
func Defaults() *RuleSet {
	rs := &RuleSet{
		Entries: []Rule{
			{
				Category: model.EntryRequestHandler,
				Kinds:    []string{string(model.KindRoute), string(model.KindHandler)},
			},
			{
				Category:     model.EntryRequestHandler,
				Kinds:        []string{string(model.KindFunction), string(model.KindMethod)},
				CallPatterns: []string{`^(res|response|reply)\.(send|json|render|status)`},
			},
			{
				Category:     model.EntryScheduledJob,
				Kinds:        []string{string(model.KindFunction), string(model.KindMethod)},
				NamePatterns: []string{`(?i)^(run|execute)?(cron|scheduled|nightly|daily|hourly)`},
			},
			{
				Category:     model.EntryMessageConsumer,
				NamePatterns: []string{`(?i)^(on|handle|consume|process)[A-Z_].*(message|event|job|task)?$`},
				FilePatterns: []string{`(consumer|subscriber|listener|worker)s?\.`},
			},
			{
				Category: model.EntryLifecycleHook,
				Kinds:    []string{string(model.KindTrigger)},
			},
			{
				Category:     model.EntryLifecycleHook,
				NamePatterns: []string{`(?i)^(before|after)(insert|update|delete|save|create|destroy)`},
			},
			{
				Category:     model.EntryUIEvent,
				NamePatterns: []string{`^(on|handle)[A-Z]\w*(Click|Change|Submit|Press|Select|Input)$`},
			},
		},
		Outcomes: []Rule{
			{
				Category: model.OutcomeDataMutation,
				Kinds:    []string{string(model.KindProcedure)},
			},
			{
				Category:     model.OutcomeDataMutation,
				CallPatterns: []string{`(?i)\.(insert|update|delete|upsert|save|create|destroy|exec)(One|Many)?$`},
			},
			{
				Category:     model.OutcomeResponse,
				CallPatterns: []string{`^(res|response|reply)\.(send|json|render|end|redirect)`},
			},
			{
				Category:     model.OutcomeNotification,
				CallPatterns: []string{`(?i)(send(email|mail|sms|push|notification)|notify)`},
			},
			{
				Category:     model.OutcomeQueuePublish,
				CallPatterns: []string{`(?i)\.(publish|enqueue|push|produce|emit)$`},
			},
			{
				Category:     model.OutcomeCacheMutation,
				CallPatterns: []string{`(?i)(cache|redis)\.(set|del|delete|invalidate|expire)`},
			},
			{
				Category:     model.OutcomeFileWrite,
				CallPatterns: []string{`(?i)(fs|file)\.(write|append|unlink|rename|mkdir)`},
			},
			{
				Category:     model.OutcomeOutboundCall,
				CallPatterns: []string{`(?i)^(fetch|axios|http|request)\b`},
			},
		},
	}

	// Fixed patterns; a compile failure here is a programming error.
	if err := rs.compile(); err != nil {
		panic(err)
	}
	return rs
}
