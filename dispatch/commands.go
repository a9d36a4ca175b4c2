package dispatch

// registerAll wires the command registry. Admin-only commands are gated
// by the registry flag; open commands may still gate individual
// subflags.
func (d *Dispatcher) registerAll() {
	d.register("fort", false, "current targets; --next N, --miss N, --details SYS, --summary, --set F:U SYS, --order A,B", d.cmdFort)
	d.register("drop", false, "record merits: drop AMOUNT [SYSTEM] [@user]", d.cmdDrop)
	d.register("um", false, "undermining progress; --list, --npcs, --set US:THEM% SYS, --offset N SYS, --priority P SYS", d.cmdUm)
	d.register("hold", false, "held merits: hold AMOUNT SYSTEM; --died, --redeem [--redeem-systems A,B]", d.cmdHold)
	d.register("user", false, "your profile; --name N, --cry C", d.cmdUser)
	d.register("whois", false, "look a member up by name", d.cmdWhois)
	d.register("dist", false, "distance between systems: dist A, B", d.cmdDist)
	d.register("near", false, "open targets near a system; --um, --ly N", d.cmdNear)
	d.register("route", false, "leg distances along a route: route A, B, C", d.cmdRoute)
	d.register("scout", false, "latest feed snapshot for systems", d.cmdScout)
	d.register("trigger", false, "fort and um triggers for systems", d.cmdTrigger)
	d.register("time", false, "countdown to the cycle tick", d.cmdTime)
	d.register("status", false, "campaign summary", d.cmdStatus)
	d.register("kos", false, "kill-on-sight list: report, search, pull", d.cmdKos)
	d.register("feedback", false, "pass a suggestion to the maintainers", d.cmdFeedback)
	d.register("help", false, "this list", d.cmdHelp)

	d.register("track", true, "carrier surveillance: add, remove, ids, show, channel, scan", d.cmdTrack)
	d.register("admin", true, "management: add, remove, cycle, deny, dump, halt, scan, top, addum, removeum, active, cast, info", d.cmdAdmin)
	d.register("dash", true, "periodic task dashboard", d.cmdDash)
}
