package gateway

import (
	"fmt"
	"html"
	"strings"

	"github.com/shiftbreak/breakwatch/internal/breaks"
)

// titles maps break kinds to their chat-facing names.
var titles = map[breaks.Kind]string{
	breaks.KindToilet: "厕所",
	breaks.KindSmoke:  "抽烟",
	breaks.KindMeal:   "吃饭",
}

func title(kind breaks.Kind) string {
	if t, ok := titles[kind]; ok {
		return t
	}
	return "打卡"
}

func shiftWord(shift string) string {
	if shift == breaks.ShiftDay {
		return "白班"
	}
	return "夜班"
}

// mention renders a clickable user link. Falls back to a generic label
// when no display name is known.
func mention(u breaks.Identity) string {
	name := u.DisplayName
	if name == "" {
		name = "这位同事"
	}
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, u.UserID, html.EscapeString(name))
}

// callout prefers an @username so the platform actually notifies.
func callout(u breaks.Identity) string {
	if u.Username != "" {
		return "@" + html.EscapeString(u.Username)
	}
	return mention(u)
}

func fmtDur(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d分%02d秒", seconds/60, seconds%60)
}

// render produces the HTML body and optional reply target for an event.
// An empty body means nothing should be sent.
func (g *Gateway) render(ev breaks.Event) (string, int64) {
	switch e := ev.(type) {
	case breaks.BeganNotice:
		return fmt.Sprintf(
			"%s 开始计时（上限 %d 分）。\n📊 本%s %s 已 <b>%d</b> 次 / 限制 <b>%d</b> 次。\n回来后发送“回来/回/back/1”或使用 /back 结束。",
			mention(e.User), e.LimitMinutes, shiftWord(e.Shift), title(e.Kind), e.TodayCount, e.Quota,
		), e.UserMessageID

	case breaks.EndedNotice:
		verdict := "\n✅ 本次未超时。"
		if e.Overtime {
			verdict = "\n⚠️ 本次已超时。"
		}
		return fmt.Sprintf(
			"✅ %s 本次结束，用时 %s（上限 %d分）。\n📊 本%s %s：第 <b>%d</b> 次（限制 <b>%d</b> 次），累计 <b>%s</b>。%s",
			mention(e.User), fmtDur(e.ElapsedSeconds), e.LimitMinutes,
			shiftWord(e.Shift), title(e.Kind), e.TodayCount, e.Quota, fmtDur(e.TodayTotalSeconds), verdict,
		), 0

	case breaks.TooShortNotice:
		return fmt.Sprintf(
			"%s 本次用时 %s，低于最小时长（%d 秒），不计入统计。",
			mention(e.User), fmtDur(e.ElapsedSeconds), e.MinSeconds,
		), 0

	case breaks.AlreadyActiveNotice:
		return fmt.Sprintf(
			"%s 已有进行中的打卡，请先发送“回来/回/back/1”或 /back 结束。",
			mention(e.User),
		), e.UserMessageID

	case breaks.NoActiveNotice:
		return fmt.Sprintf("%s 当前没有进行中的打卡。", mention(e.User)), e.UserMessageID

	case breaks.CooldownNotice:
		return fmt.Sprintf(
			"%s 刚结束不久，%s 冷却 <b>%d</b> 分钟内请勿重复开始（还需 <b>%d</b> 分钟）。",
			mention(e.User), title(e.Kind), e.CooldownMinutes, e.RemainingMinutes,
		), 0

	case breaks.QuotaNotice:
		return fmt.Sprintf(
			"%s 本%s次数已达上限 <b>%d</b> 次。",
			mention(e.User), shiftWord(e.Shift), e.Limit,
		), 0

	case breaks.TimeoutReminder:
		return fmt.Sprintf(
			"⏰ %s 的 %s 已到上限 <b>%d</b> 分，请尽快发送“回来 / 回 / back / 1”或 /back 结束。",
			callout(e.User), title(e.Kind), e.LimitMinutes,
		), 0

	case breaks.GraceEscalation:
		return fmt.Sprintf(
			"⚠️ %s 提醒：%s 的 %s 已超过上限并宽限 <b>%d</b> 分钟仍未结束，当前已用时 <b>%s</b>。",
			g.managerCallout(), mention(e.User), title(e.Kind), e.GraceMinutes, fmtDur(e.ElapsedSeconds),
		), 0

	case breaks.ShiftReport:
		if len(e.Entries) == 0 {
			return "", 0
		}
		lines := make([]string, 0, len(e.Entries))
		for _, entry := range e.Entries {
			lines = append(lines, fmt.Sprintf(
				"• %s — %s | 已用时 <b>%s</b> | 开始 <b>%s</b> | ID <code>%d</code>",
				mention(entry.User), title(entry.Kind), fmtDur(entry.ElapsedSeconds), entry.StartLocal, entry.User.UserID,
			))
		}
		return fmt.Sprintf(
			"🕖 换班统计：共有 <b>%d</b> 人尚未回来，系统已自动结束：\n%s",
			len(lines), strings.Join(lines, "\n"),
		), 0

	case breaks.WhoReport:
		if len(e.Entries) == 0 {
			return "当前没有人外出。", 0
		}
		lines := make([]string, 0, len(e.Entries)+1)
		lines = append(lines, fmt.Sprintf("🚶 当前外出 <b>%d</b> 人：", len(e.Entries)))
		for _, entry := range e.Entries {
			lines = append(lines, fmt.Sprintf(
				"• %s — %s | 已用时 <b>%s</b> | 开始 <b>%s</b>",
				mention(entry.User), title(entry.Kind), fmtDur(entry.ElapsedSeconds), entry.StartLocal,
			))
		}
		return strings.Join(lines, "\n"), 0

	case breaks.SummaryReport:
		if len(e.Entries) == 0 {
			return "暂无数据。", 0
		}
		lines := make([]string, 0, len(e.Entries)+1)
		lines = append(lines, fmt.Sprintf("📊 本%s汇总：", shiftWord(e.Shift)))
		for _, entry := range e.Entries {
			parts := make([]string, 0, len(entry.Totals))
			for _, t := range entry.Totals {
				parts = append(parts, fmt.Sprintf("%s <b>%d</b> 次 %s", title(t.Kind), t.Count, fmtDur(t.TotalSeconds)))
			}
			lines = append(lines, fmt.Sprintf("• %s — %s", mention(entry.User), strings.Join(parts, "；")))
		}
		return strings.Join(lines, "\n"), 0

	case breaks.HelpNotice:
		return "ℹ️ 打卡说明：\n" +
			"• 开始：发送“厕所/抽烟/吃饭”（或 wc/smoke/eat 等别名）\n" +
			"• 结束：发送“回来/回/back/1”或 /back\n" +
			"• 时长：厕所10分，抽烟10分，吃饭30分；到时提醒；超时提示。\n" +
			"• 最小时长：厕所30秒、抽烟30秒、吃饭60秒，未达不计且不冷却。", e.UserMessageID

	case breaks.SetLimitAck:
		return fmt.Sprintf("✅ 已将 %s 上限设置为 <b>%d</b> 分。", title(e.Kind), e.Minutes), 0

	case breaks.SetQuotaAck:
		return fmt.Sprintf("✅ 已将 %s 每班次数上限设置为 <b>%d</b> 次。", title(e.Kind), e.Count), 0

	case breaks.MuteAck:
		if e.Muted {
			return "🔕 已开启静音（仅保留换班统计与到时提醒）。", 0
		}
		return "🔔 已取消静音。", 0

	default:
		return "", 0
	}
}

func (g *Gateway) managerCallout() string {
	if g.opts.ManagerUsername != "" {
		return "@" + html.EscapeString(g.opts.ManagerUsername)
	}
	name := g.opts.ManagerName
	if name == "" {
		name = "管理员"
	}
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, g.opts.ManagerID, html.EscapeString(name))
}
