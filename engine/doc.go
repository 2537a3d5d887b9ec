// Package engine wires all courier subsystems together and provides the
// primary application-level API for registering and enqueuing work.
//
// The engine package exists to break a fundamental import cycle: the root
// courier package defines Entity (imported by job, webhook, etc.) and
// therefore cannot import those packages back. Engine sits above all
// subsystem packages and below the application layer.
//
// # Building an Engine
//
//	st := memory.New()
//	eng, err := engine.Build(courier.DefaultConfig(), st,
//	    engine.WithLogger(logger),
//	    engine.WithMiddleware(myMiddleware),
//	)
//
// # Registering and Enqueuing Work
//
//	engine.Register(eng, &job.Definition[EmailInput]{
//	    Name:    "email.send",
//	    Handler: sendEmail,
//	})
//
//	engine.Enqueue(ctx, eng, "email.send", EmailInput{To: "user@example.com"})
//
// # Webhooks
//
//	sub, err := eng.CreateSubscription(ctx, "order.created", "https://example.com/hook", "")
//	eng.PublishEvent(ctx, "order.created", order)
//
// # Scheduling
//
//	eng.Scheduler().Schedule("report.generate", time.Hour)
//	eng.Scheduler().ScheduleCron("nightly", "report.generate", "0 2 * * *")
package engine
