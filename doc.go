// Package smoothie is a Go driver for Smoothieware-class CNC and laser
// firmware. It speaks the firmware's character-counting flow control over
// a serial or socket transport, streams loaded G-code programs at the
// machine's own pace, and layers an idle/running/paused Workflow and an
// ad-hoc Feeder on top for jogging, macros, and overrides.
//
// # Basic Usage
//
// Open a connection and load a program:
//
//	transport := smoothie.NewSocketTransport(logger, "192.168.1.50:23")
//
//	ctrl := smoothie.New(
//	    smoothie.WithTransport(transport),
//	    smoothie.WithLogger(logger),
//	)
//
//	ctx := context.Background()
//	if err := ctrl.Open(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer ctrl.Close()
//
//	if err := ctrl.SenderLoad("part.gcode", programText, nil); err != nil {
//	    log.Fatal(err)
//	}
//	ctrl.SenderStart()
//
// # Observing Machine State
//
// Subscribe to the session event feed to react to status reports, workflow
// transitions, and connection lifecycle events:
//
//	id, events := ctrl.Subscribe()
//	defer ctrl.Unsubscribe(id)
//
//	for evt := range events {
//	    switch evt.Name {
//	    case "sender:status":
//	        fmt.Println("sender:", string(evt.Data))
//	    case "workflow:state":
//	        fmt.Println("workflow:", string(evt.Data))
//	    }
//	}
//
// # Ad-hoc Commands and Macros
//
// Ad-hoc G-code bypasses the loaded program and is fed one line at a time,
// each after the firmware has acknowledged the previous one:
//
//	ctrl.Gcode([]string{"G28", "G0 X10 Y10"}, nil)
//
// Stored macros (jogging presets, tool-change sequences) run the same way
// by id:
//
//	if err := ctrl.MacroRun("home-and-probe", nil); err != nil {
//	    log.Println(err)
//	}
//
// # Overrides and Realtime Commands
//
// Feed and spindle overrides clamp to [10,200]; a delta of 0 resets to
// 100%. Feedhold, cyclestart, and reset are single-byte realtime commands
// that bypass the character-counting queue entirely:
//
//	ctrl.OverrideFeed(+10)
//	ctrl.Feedhold()
//	ctrl.Cyclestart()
package smoothie
