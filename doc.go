/*
Package wadialog is a conversation engine for the WhatsApp Cloud API webhook.

It turns each inbound webhook into one turn of a stage graph: the message is
verified, normalized, filtered (staleness, duplicates, debounce), resolved to
the next stage through triggers, hooks and routes, and finally sent through a
host-provided Sender. Session state lives behind a pluggable backend and every
turn of a session runs under that session's lock.

# Concept

A stage is a named outbound message plus the routes that interpret the reply
to it. Hooks are registered by name and referenced from stages; they shape the
outbound content or pick the next stage, but can never touch engine state
other than through the session accessor they are handed.

# Usage

	storage, _ := yamlstore.Open("./stages")
	registry, _ := hooks.NewRegistry(map[string]hooks.Func{
		"greet": greet,
	})

	cfg := wadialog.DefaultConfig()
	cfg.StartStage = "START-MENU"
	cfg.AppSecret = os.Getenv("APP_SECRET")
	cfg.EnforceSignature = true

	eng, err := wadialog.New(cfg,
		wadialog.WithStorage(storage),
		wadialog.WithSender(mySender),
		wadialog.WithHooks(registry),
	)
	if err != nil {
		log.Fatal(err)
	}

	// In the webhook handler:
	outcome, err := eng.HandleWebhook(ctx, body, r.Header.Get(whatsapp.SignatureHeader))
*/
package wadialog
