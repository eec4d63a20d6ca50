// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package integrity

import (
	"strings"

	"oclare.dev/pkg/internal/ir"
)

// A Namer hands out identifiers that are unique within the emitted program.
// [*buildctx.Context] is a Namer.
type Namer interface {
	Identifier(n int) string
}

// identLen is the number of letters in generated guard identifiers.
// It is long enough that no generated name collides with _ENV or _G.
const identLen = 6

// Guard is a Lua function that returns true
// when the environment it runs in passes one detection.
type Guard struct {
	// Name is the Lua identifier of the function.
	Name string
	// Source is a chunk of Lua statements that defines Name as a local function,
	// along with the state it keeps.
	Source string
}

// Guards is the complete set of guards for a build.
type Guards struct {
	checks [5]*Guard
	// Timing samples a short loop and fails on excessive variance.
	Timing *Guard
	// Tick fails if more than two seconds of CPU time
	// pass between consecutive ticks.
	// It backs the loop-head timing check.
	Tick *Guard
}

// NewGuards generates guard functions with fresh identifiers from names.
func NewGuards(names Namer) *Guards {
	g := new(Guards)
	g.checks[ir.CheckDebug] = newGuard(names, debugGuard)
	g.checks[ir.CheckEnvironment] = newGuard(names, environmentGuard)
	g.checks[ir.CheckHook] = newGuard(names, hookGuard)
	g.checks[ir.CheckEmulator] = newGuard(names, emulatorGuard)
	g.checks[ir.CheckSandbox] = newGuard(names, sandboxGuard)
	g.Timing = newGuard(names, timingGuard)
	g.Tick = newGuard(names, tickGuard)
	return g
}

func newGuard(names Namer, template string) *Guard {
	name := names.Identifier(identLen)
	r := strings.NewReplacer(
		"$F", name,
		"$S", names.Identifier(identLen),
		"$T", names.Identifier(identLen),
	)
	return &Guard{
		Name:   name,
		Source: strings.TrimSpace(r.Replace(template)),
	}
}

// Check returns the guard that backs the given integrity check.
func (g *Guards) Check(k ir.CheckKind) *Guard {
	return g.checks[k]
}

// All returns every guard in definition order.
func (g *Guards) All() []*Guard {
	all := make([]*Guard, 0, len(g.checks)+2)
	all = append(all, g.checks[:]...)
	return append(all, g.Timing, g.Tick)
}

// Source returns the definitions of all guards.
func (g *Guards) Source() string {
	sb := new(strings.Builder)
	for _, guard := range g.All() {
		sb.WriteString(guard.Source)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Condition returns a Lua expression that is true
// only if every startup guard passes.
// The tick guard is not part of it.
func (g *Guards) Condition() string {
	parts := make([]string, 0, len(g.checks)+1)
	for _, guard := range g.checks {
		parts = append(parts, guard.Name+"()")
	}
	parts = append(parts, g.Timing.Name+"()")
	return strings.Join(parts, " and ")
}

const debugGuard = `
local function $F()
if debug then
if debug.getinfo then local i=debug.getinfo(1) if i and i.what=="C" then return false end end
if debug.gethook and debug.gethook() then return false end
end
local j=rawget(_G,"jit")
if type(j)=="table" and j.status and not j.status() then return false end
return true
end
`

const environmentGuard = `
local $S={}
for _,k in ipairs({"print","pairs","ipairs","next","type","tostring","tonumber","select","rawget","rawset","rawequal","getmetatable","setmetatable","pcall","xpcall","error","assert","loadstring","load","dofile","loadfile","require","unpack","table","string","math","coroutine","io","os","debug","package"}) do
local v=rawget(_G,k) if v~=nil then $S[k]=tostring(v) end
end
local function $F()
for k,v in pairs($S) do local c=rawget(_G,k) if c==nil or tostring(c)~=v then return false end end
return true
end
`

const hookGuard = `
local $S={}
local $T={string=string,table=table,math=math}
for n,t in pairs($T) do local mt=getmetatable(t) $S[n]=mt and tostring(mt) or "nil" end
local function $F()
for n,t in pairs($T) do
local mt=getmetatable(t)
if (mt and tostring(mt) or "nil")~=$S[n] then return false end
if $S[n]=="nil" and debug and debug.getmetatable and debug.getmetatable(t)~=nil then return false end
end
return true
end
`

const emulatorGuard = `
local $S
local function $F()
if $S~=nil then return $S end
$S=true
if os and os.getenv then
for _,e in ipairs({"QEMU_AUDIO_DRV","DOCKER_HOST","container","KUBERNETES_SERVICE_HOST","WINE","WINEPREFIX","WINEDEBUG","WINELOADER","SANDBOX","SANDBOXIE","CUCKOO"}) do
if os.getenv(e) then $S=false return $S end
end
end
if io and io.open then
for _,f in ipairs({"/.dockerenv","/proc/1/cgroup","/proc/self/status","/.flatpak-info"}) do
local ok,h=pcall(io.open,f,"r")
if ok and h then
local c=h:read("*a") or ""
h:close()
c=string.lower(c)
for _,m in ipairs({"docker","lxc","kubepods","qemu","kvm","vbox","vmware","hyperv"}) do
if string.find(c,m,1,true) then $S=false return $S end
end
end
end
end
return $S
end
`

const sandboxGuard = `
local $S
local function $F()
if $S~=nil then return $S end
$S=true
local clock=os and os.clock
if clock then
local t0=clock()
local n=0 for i=1,500000 do n=n+i end
local e=clock()-t0
if e>0.5 or (e<0.001 and n>0 and rawget(_G,"jit")==nil) then $S=false return $S end
end
if collectgarbage then
pcall(collectgarbage,"collect")
local ok,m1=pcall(collectgarbage,"count")
if ok and type(m1)=="number" then
local t={} for i=1,10000 do t[i]=string.rep("x",100)..i end
local m2=collectgarbage("count")
t=nil
pcall(collectgarbage,"collect")
if m2-m1<100 then $S=false return $S end
end
end
if debug and debug.getinfo then
local i=debug.getinfo(1,"S")
if i and type(i.source)=="string" and string.find(string.lower(i.source),"sandbox",1,true) then $S=false return $S end
end
if os and os.getenv then
for _,e in ipairs({"ANALYSIS","MALWARE","VIRUS","CUCKOO","ANUBIS","THREAT","JOEBOX"}) do
if os.getenv(e) then $S=false return $S end
end
end
return $S
end
`

const timingGuard = `
local $S
local function $F()
if $S~=nil then return $S end
$S=true
local clock=os and os.clock
if not clock then return $S end
local s,avg={},0
for i=1,5 do local t=clock() local x=0 for j=1,10000 do x=x+j end s[i]=clock()-t avg=avg+s[i] end
avg=avg/5
local v=0 for i=1,5 do v=v+(s[i]-avg)*(s[i]-avg) end
v=v/5
if v>avg*10 or avg>0.1 then $S=false end
return $S
end
`

const tickGuard = `
local $S
local function $F()
local clock=os and os.clock
if not clock then return true end
local t=clock()
if $S and t-$S>2 then return false end
$S=t
return true
end
`
