// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package assembler

import (
	"fmt"
	"strings"

	"oclare.dev/pkg/internal/buildctx"
	"oclare.dev/pkg/internal/cfobf"
	"oclare.dev/pkg/internal/dialect"
	"oclare.dev/pkg/internal/integrity"
	"oclare.dev/pkg/internal/ir"
	"oclare.dev/pkg/internal/vmarch"
)

// deadCodePercent is the share of handlers that open with inert statements.
const deadCodePercent = 40

// handlerGen writes handler bodies.
// A handler is called with the current frame f
// and returns nil to continue, 1 to return the stack range f.rb through f.re,
// or 2 to tail call f.g.
type handlerGen struct {
	cfg      *vmarch.Config
	features dialect.Features
	// guards is nil when guards are disabled.
	guards *integrity.Guards
	obf    *cfobf.Obfuscator
	rng    *buildctx.Rand
}

var checkKinds = map[vmarch.Mnemonic]ir.CheckKind{
	vmarch.ChkDbg:   ir.CheckDebug,
	vmarch.ChkEnv:   ir.CheckEnvironment,
	vmarch.AntiHook: ir.CheckHook,
	vmarch.ChkEmu:   ir.CheckEmulator,
	vmarch.ChkSbox:  ir.CheckSandbox,
}

// handler returns the Lua function expression that implements m.
func (g *handlerGen) handler(m vmarch.Mnemonic) (string, error) {
	body, err := g.body(m)
	if err != nil {
		return "", err
	}
	if body != "" && m != vmarch.Nop && g.rng.IntRange(0, 99) < deadCodePercent {
		body = g.obf.DeadCode() + "\n" + body
	}
	return "function(f)\n" + body + "\nend", nil
}

// fakeHandler returns the function expression for a decoy opcode.
func (g *handlerGen) fakeHandler() string {
	return "function(f)\n" + g.obf.FakeHandler(cfobf.HandlerEnv{
		Stack: "f.s",
		Top:   "f.t",
		PC:    "f.p",
		Halt:  "return @halt(f)",
	}) + "\nend"
}

const (
	wordOperand  = "@bxor(@rw(f),@IK)"
	constOperand = "f.k[" + wordOperand + "+1]"
	popValue     = "local s,t=f.s,f.t local v=s[t] s[t]=nil f.t=t-1"
)

func push(expr string) string {
	return "local t=f.t+1 f.s[t]=" + expr + " f.t=t"
}

func (g *handlerGen) body(m vmarch.Mnemonic) (string, error) {
	cfg := g.cfg
	switch m {
	case vmarch.Add:
		return g.binary(g.addShape()), nil
	case vmarch.Sub:
		return g.binary(g.subShape()), nil
	case vmarch.Mul:
		return g.binary(g.mulShape()), nil
	case vmarch.Div:
		return g.binary("local r=a/b"), nil
	case vmarch.Mod:
		return g.binary("local r=a%b"), nil
	case vmarch.Pow:
		return g.binary("local r=a^b"), nil
	case vmarch.IDiv:
		if g.features.IntegerDivision {
			return g.binary("local r=a//b"), nil
		}
		return g.binary("local r=@floor(a/b)"), nil
	case vmarch.Concat:
		return g.binary("local r=a..b"), nil
	case vmarch.Eq:
		return g.binary("local r=a==b"), nil
	case vmarch.Neq:
		return g.binary("local r=a~=b"), nil
	case vmarch.Lt:
		return g.binary("local r=a<b"), nil
	case vmarch.Le:
		return g.binary("local r=a<=b"), nil
	case vmarch.Gt:
		return g.binary("local r=a>b"), nil
	case vmarch.Ge:
		return g.binary("local r=a>=b"), nil
	case vmarch.BAnd, vmarch.BOr, vmarch.BXor, vmarch.Shl, vmarch.Shr:
		return g.binary("local r=" + g.bitwise(m)), nil
	case vmarch.BNot:
		if g.features.BitLib == dialect.NativeBits {
			return "local s,t=f.s,f.t s[t]=~s[t]", nil
		}
		return "local s,t=f.s,f.t s[t]=bit32.bnot(s[t])", nil
	case vmarch.Unm:
		return "local s,t=f.s,f.t s[t]=-s[t]", nil
	case vmarch.Not:
		return "local s,t=f.s,f.t s[t]=not s[t]", nil
	case vmarch.Len:
		return "local s,t=f.s,f.t s[t]=#s[t]", nil

	case vmarch.Push:
		return "local v=" + wordOperand + " if v>=2147483648 then v=v-4294967296 end " + push("v"), nil
	case vmarch.Pop:
		return "local t=f.t f.s[t]=nil f.t=t-1", nil
	case vmarch.Dup:
		return "local s,t=f.s,f.t s[t+1]=s[t] f.t=t+1", nil
	case vmarch.Swap:
		return "local s,t=f.s,f.t s[t],s[t-1]=s[t-1],s[t]", nil
	case vmarch.Rot3:
		return "local s,t=f.s,f.t s[t-2],s[t-1],s[t]=s[t-1],s[t],s[t-2]", nil
	case vmarch.Pick:
		return "local n=@rb(f) local s,t=f.s,f.t s[t+1]=s[t-n] f.t=t+1", nil
	case vmarch.Drop:
		return "local n=@rb(f) local s,t=f.s,f.t for i=t-n+1,t do s[i]=nil end f.t=t-n", nil

	case vmarch.Jmp:
		return g.target() + " f.p=d", nil
	case vmarch.JT, vmarch.JF:
		cond := "v"
		if !cfg.JumpsWhenTrue(m) {
			cond = "not v"
		}
		return g.target() + " " + popValue + " if " + cond + " then f.p=d end", nil
	case vmarch.JNil:
		return g.target() + " " + popValue + " if v==nil then f.p=d end", nil
	case vmarch.Loop:
		return "local s,t=f.s,f.t local v,lim,st=s[t-2],s[t-1],s[t] s[t]=nil s[t-1]=nil t=t-2\n" +
			"s[t]=(st>0 and v<=lim) or (st<0 and v>=lim) or st==0 f.t=t", nil
	case vmarch.TFor:
		return "local a=@rb(f) local b=@rb(f) local c=@rb(f) local d=@rb(f) local l=f.l\n" +
			"local r=@pack(l[a][1](l[b][1],l[c][1]))\n" +
			"for i=1,d do l[c+i]={r[i]} end\n" +
			"l[c][1]=r[1] " + push("r[1]"), nil

	case vmarch.LdLoc:
		return "local i=@rb(f) " + push("f.l[i][1]"), nil
	case vmarch.StLoc:
		return "local i=@rb(f) local s,t=f.s,f.t f.l[i][1]=s[t] s[t]=nil f.t=t-1", nil
	case vmarch.InitLoc:
		return "local i=@rb(f) local s,t=f.s,f.t f.l[i]={s[t]} s[t]=nil f.t=t-1", nil
	case vmarch.LdUp:
		return "local i=@rb(f) " + push("f.u[i+1][1]"), nil
	case vmarch.StUp:
		return "local i=@rb(f) local s,t=f.s,f.t f.u[i+1][1]=s[t] s[t]=nil f.t=t-1", nil
	case vmarch.LdGlob:
		return "local k=" + constOperand + " " + push("@env[k]"), nil
	case vmarch.StGlob:
		return "local k=" + constOperand + " local s,t=f.s,f.t @env[k]=s[t] s[t]=nil f.t=t-1", nil
	case vmarch.NewTbl:
		return push("{}"), nil
	case vmarch.GetTbl:
		return "local s,t=f.s,f.t local k=s[t] s[t]=nil t=t-1 s[t]=s[t][k] f.t=t", nil
	case vmarch.SetTbl:
		return "local s,t=f.s,f.t s[t-2][s[t-1]]=s[t] s[t]=nil s[t-1]=nil s[t-2]=nil f.t=t-3", nil
	case vmarch.SetList:
		return "local a=" + wordOperand + " local s,t=f.s,f.t local n=s[t] s[t]=nil t=t-1\n" +
			"local b=t-n local o=s[b]\n" +
			"for i=1,n do o[a+i-1]=s[b+i] s[b+i]=nil end\n" +
			"s[b]=nil f.t=b-1", nil
	case vmarch.Self:
		return "local k=" + constOperand + " local s,t=f.s,f.t local o=s[t] s[t]=o[k] s[t+1]=o f.t=t+1", nil

	case vmarch.Call:
		return g.call(), nil
	case vmarch.TCall:
		return g.count() + "\n" +
			"local r={n=n,f=s[t-n]} for i=1,n do r[i]=s[t-n+i] end\n" +
			"f.g=r return 2", nil
	case vmarch.Ret:
		return g.count() + " f.rb=t-n+1 f.re=t return 1", nil
	case vmarch.MRet:
		return "local w=@rb(f) local s,t=f.s,f.t local n=s[t] s[t]=nil t=t-1\n" +
			"if n>w then for i=t-n+w+1,t do s[i]=nil end else for i=t+1,t+w-n do s[i]=nil end end\n" +
			"f.t=t-n+w", nil
	case vmarch.Varg:
		return "local s,t,va=f.s,f.t,f.va local n=va.n\n" +
			"for i=1,n do s[t+i]=va[i] end\n" +
			"t=t+n+1 s[t]=n f.t=t", nil
	case vmarch.Clos:
		return "local ch=" + constOperand + " local up,l,pu={},f.l,f.u\n" +
			"for i,d in ipairs(ch.u) do if d[1] then up[i]=l[d[2]] else up[i]=pu[d[2]+1] end end\n" +
			push("function(...) return @exec(ch,up,...) end"), nil

	case vmarch.LdK:
		return push(constOperand), nil
	case vmarch.LdNil:
		return push("nil"), nil
	case vmarch.LdTrue:
		return push("true"), nil
	case vmarch.LdFalse:
		return push("false"), nil
	case vmarch.Nop:
		return "", nil
	case vmarch.Halt:
		return "f.rb=1 f.re=0 return 1", nil
	case vmarch.Trap:
		return "return @halt(f)", nil

	case vmarch.ChkDbg, vmarch.ChkEnv, vmarch.AntiHook, vmarch.ChkEmu, vmarch.ChkSbox:
		if g.guards == nil {
			return "", nil
		}
		check := "if not " + g.guards.Check(checkKinds[m]).Name + "() then return @halt(f) end"
		if cfg.IsOneShot(m) {
			return fmt.Sprintf("if @once[%d] then return end @once[%d]=true %s", m, m, check), nil
		}
		return check, nil
	case vmarch.ChkTim:
		if g.guards == nil {
			return "", nil
		}
		return "if not " + g.guards.Tick.Name + "() then return @halt(f) end", nil
	case vmarch.Rekey:
		return "if not @reval() then return @halt(f) end", nil
	case vmarch.SMBC:
		return "local st=" + wordOperand + " local m=@rb(f) local n=@rb(f) local h=f.h\n" +
			"if not h[st] then h[st]=true local c=f.c for i=st+1,st+n do c[i]=@bxor(c[i],m) end end", nil
	default:
		return "", fmt.Errorf("no handler for %v", m)
	}
}

// binary wraps a statement that computes r from operands a and b.
func (g *handlerGen) binary(stmt string) string {
	if g.cfg.PopOrderSwap {
		return "local t=f.t-1 local s=f.s local a,b=s[t],s[t+1] s[t+1]=nil\n" + stmt + "\ns[t]=r f.t=t"
	}
	return "local s,t=f.s,f.t local b=s[t] local a=s[t-1] s[t]=nil\n" + stmt + "\ns[t-1]=r f.t=t-1"
}

// numeric computes r with alt when both operands are numbers
// and with plain otherwise, so that metamethods see the original operation.
func numeric(alt, plain string) string {
	return `local r if type(a)=="number" and type(b)=="number" then ` + alt + " else " + plain + " end"
}

// blind computes expr and then discards it behind a test that never holds.
func blind(expr string) string {
	return "local r=" + expr + " if @bxor(@XS,@XS)~=0 then r=nil end"
}

func (g *handlerGen) addShape() string {
	switch g.cfg.AddShape {
	case 1:
		return blind("a+b")
	case 2:
		return numeric("r=a-(-b)", "r=a+b")
	case 3:
		return numeric("r=b+a", "r=a+b")
	default:
		return "local r=a+b"
	}
}

func (g *handlerGen) subShape() string {
	switch g.cfg.SubShape {
	case 1:
		return blind("a-b")
	case 2:
		return numeric("r=a+(-b)", "r=a-b")
	case 3:
		return numeric("local nb=-b r=a+nb", "r=a-b")
	default:
		return "local r=a-b"
	}
}

func (g *handlerGen) mulShape() string {
	switch g.cfg.MulShape {
	case 1:
		return blind("a*b")
	case 2:
		return numeric("r=b*a", "r=a*b")
	default:
		return "local r=a*b"
	}
}

var nativeBitwise = map[vmarch.Mnemonic]string{
	vmarch.BAnd: "a&b",
	vmarch.BOr:  "a|b",
	vmarch.BXor: "a~b",
	vmarch.Shl:  "a<<b",
	vmarch.Shr:  "a>>b",
}

var bit32Bitwise = map[vmarch.Mnemonic]string{
	vmarch.BAnd: "bit32.band(a,b)",
	vmarch.BOr:  "bit32.bor(a,b)",
	vmarch.BXor: "bit32.bxor(a,b)",
	vmarch.Shl:  "bit32.lshift(a,b)",
	vmarch.Shr:  "bit32.rshift(a,b)",
}

var helperBitwise = map[vmarch.Mnemonic]string{
	vmarch.BAnd: "@band(a,b)",
	vmarch.BOr:  "@bor(a,b)",
	vmarch.BXor: "@bxor(a,b)",
	vmarch.Shl:  "@shl(a,b)",
	vmarch.Shr:  "@shr(a,b)",
}

// bitwise returns the expression for a binary bitwise operator
// in the target dialect's own terms.
func (g *handlerGen) bitwise(m vmarch.Mnemonic) string {
	switch g.features.BitLib {
	case dialect.NativeBits:
		return nativeBitwise[m]
	case dialect.Bit32Library:
		return bit32Bitwise[m]
	default:
		return helperBitwise[m]
	}
}

// target reads a jump operand into the absolute offset d.
func (g *handlerGen) target() string {
	if g.cfg.JumpRelative {
		return "local d=@bxor(@rw(f),@JK) if d>=2147483648 then d=d-4294967296 end d=f.p+d"
	}
	return "local d=@bxor(@rw(f),@JK)"
}

// count reads a CALL, TCALL, or RET count into n,
// popping the counted tail's length when the variadic flag is set.
// It leaves the stack in s and its top in t.
func (g *handlerGen) count() string {
	return fmt.Sprintf("local o=@rb(f) local s,t=f.s,f.t local n=o%%%d\n"+
		"if o>=%d then n=n+s[t] s[t]=nil t=t-1 end", vmarch.VariadicFlag, vmarch.VariadicFlag)
}

func (g *handlerGen) call() string {
	sb := new(strings.Builder)
	sb.WriteString(g.count())
	sb.WriteString("\n")
	switch g.cfg.CallConvention {
	case vmarch.ReversedArgs:
		sb.WriteString("local a={}\n" +
			"for i=n,1,-1 do a[i]=s[t] s[t]=nil t=t-1 end\n" +
			"local fn=s[t] s[t]=nil t=t-1\n" +
			"local r=@pack(fn(@unpack(a,1,n)))\n")
	default:
		sb.WriteString("local b=t-n\n" +
			"local r=@pack(s[b](@unpack(s,b+1,t)))\n" +
			"for i=b,t do s[i]=nil end\n" +
			"t=b-1\n")
	}
	sb.WriteString("for i=1,r.n do s[t+i]=r[i] end\n" +
		"t=t+r.n+1 s[t]=r.n f.t=t")
	return sb.String()
}
